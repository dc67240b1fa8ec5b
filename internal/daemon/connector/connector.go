// Package connector is responsible for finding and connecting to the daemon
// process for this repository, starting it, or killing and restarting it,
// as necessary.
package connector

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"
	"github.com/taskmesh/taskmesh/internal/turbodprotocol"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var (
	// ErrFailedToStart is returned when the daemon process cannot be started
	ErrFailedToStart = errors.New("daemon could not be started")
	// ErrVersionMismatch is returned when the daemon process was spawned by a different version of turbo
	ErrVersionMismatch = errors.New("daemon version does not match client version")
	// ErrDaemonNotRunning is returned when the client cannot contact the daemon and is
	// configured not to attempt to start a new daemon
	ErrDaemonNotRunning = errors.New("the daemon is not running")
	// ErrTooManyAttempts is returned when the client fails to connect too many times
	ErrTooManyAttempts = errors.New("reached maximum number of attempts contacting daemon")
	// errConnectionFailure is a sentinel for a failed attempt at reaching the daemon socket
	errConnectionFailure = errors.New("could not connect to daemon")
)

// Opts is the set of configurable options for the client connection,
// including some options to be passed through to the daemon process if
// it needs to be started.
type Opts struct {
	ServerTimeout time.Duration
	// DontStart refuses to start a daemon when none is running.
	DontStart bool
	// DontKill reports a version mismatch instead of restarting the daemon.
	DontKill bool
}

// Client represents a connection to the daemon process
type Client struct {
	turbodprotocol.TurbodClient
	*grpc.ClientConn
	SockPath turbopath.AbsoluteSystemPath
	PidPath  turbopath.AbsoluteSystemPath
	LogPath  turbopath.AbsoluteSystemPath
}

// Connector instances are used to create a connection to turbo's daemon process
// The daemon will be started, or killed and restarted, if necessary
type Connector struct {
	Logger       hclog.Logger
	Bin          string
	Opts         Opts
	SockPath     turbopath.AbsoluteSystemPath
	PidPath      turbopath.AbsoluteSystemPath
	LogPath      turbopath.AbsoluteSystemPath
	TurboVersion string
}

func (c *Connector) wrapConnectionError(err error) error {
	return errors.Wrapf(err, `connection to turbo daemon process failed. Please ensure the following:
 - the unix domain socket at %v has been removed
 - the process identified by the pid at %v is not running, and remove %v
 You can also run without the daemon process by passing --no-daemon`, c.SockPath, c.PidPath, c.PidPath)
}

func (c *Connector) addr() string {
	return fmt.Sprintf("unix://%v", c.SockPath.ToString())
}

// We defer to the daemon's pid file as the locking mechanism. If it doesn't
// exist, we will attempt to start the daemon. If the daemon has a different
// version, we will kill it and start a new one. If the pid file contains a
// stale pid, we will remove it and start over.
const (
	_maxAttempts          = 3
	_shutdownDeadline     = 1 * time.Second
	_shutdownPollInterval = 50 * time.Millisecond
	_socketPollTimeout    = 1 * time.Second
	_socketPollInterval   = 20 * time.Millisecond
)

// killLiveServer tells a running server to shut down. This method is also responsible
// for closing this connection
func (c *Connector) killLiveServer(ctx context.Context, client *Client, serverPid int) error {
	defer func() { _ = client.Close() }()

	_, err := client.Shutdown(ctx, &turbodprotocol.ShutdownRequest{})
	if err != nil {
		c.Logger.Error(fmt.Sprintf("failed to shutdown running daemon. attempting to force it closed: %v", err))
		return c.killDeadServer(serverPid)
	}
	// Wait for the server to gracefully exit
	deadline := time.After(_shutdownDeadline)
outer:
	for c.PidPath.FileExists() {
		select {
		case <-deadline:
			break outer
		case <-time.After(_shutdownPollInterval):
		}
	}
	if c.PidPath.FileExists() {
		c.Logger.Error(fmt.Sprintf("daemon did not exit after %v, attempting to force it closed", _shutdownDeadline.String()))
		return c.killDeadServer(serverPid)
	}
	if err := c.SockPath.Remove(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// killDeadServer tries to kill the daemon process identified by the pid
// file, but only if it is the same process we were talking to.
func (c *Connector) killDeadServer(pid int) error {
	// currently the only error that this constructor returns is
	// in the case that you don't provide an absolute path.
	// Given that we require an absolute path as input, this should
	// hopefully never happen.
	lockFile, err := lockfile.New(c.PidPath.ToString())
	if err != nil {
		panic(err)
	}
	process, err := lockFile.GetOwner()
	if err == nil {
		// We have a process. If it's not the same one we failed to talk to,
		// leave it alone: someone else may have already restarted the daemon.
		if process.Pid != pid {
			return nil
		}
		return process.Kill()
	} else if errors.Is(err, os.ErrNotExist) {
		// There's no pid file, so no process to kill
		return nil
	}
	// We could have hit lockfile.ErrDeadOwner, or a parse failure on the
	// pid file. Either way, surface it so the user can clean up manually.
	return err
}

// Connect attempts to create a connection to a turbo daemon.
// Retries and daemon restarts are built in. If this fails,
// it is unlikely to succeed after an automated retry.
func (c *Connector) Connect(ctx context.Context) (*Client, error) {
	client, err := c.connectInternal(ctx)
	if err != nil {
		return nil, c.wrapConnectionError(err)
	}
	return client, nil
}

func (c *Connector) connectInternal(ctx context.Context) (*Client, error) {
	for i := 0; i < _maxAttempts; i++ {
		serverPid, err := c.getOrStartDaemon()
		if err != nil {
			return nil, err
		}
		if err := c.waitForSocket(); errors.Is(err, ErrFailedToStart) {
			// The socket never appeared; try again, which may start a new daemon
			continue
		} else if err != nil {
			return nil, err
		}
		client, err := c.getClientConn()
		if err != nil {
			return nil, err
		}
		err = c.sendHello(ctx, client)
		switch {
		case err == nil:
			return client, nil
		case errors.Is(err, ErrVersionMismatch):
			if c.Opts.DontKill {
				return nil, ErrVersionMismatch
			}
			if err := c.killLiveServer(ctx, client, serverPid); err != nil {
				return nil, err
			}
		case errors.Is(err, errConnectionFailure):
			_ = client.Close()
			if err := c.killDeadServer(serverPid); err != nil {
				return nil, err
			}
			// the socket is stale; remove it so the next attempt starts fresh
			if err := c.SockPath.Remove(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		default:
			return nil, err
		}
	}
	return nil, ErrTooManyAttempts
}

// getOrStartDaemon returns the pid of the daemon that owns the pid file,
// starting one if none is running.
func (c *Connector) getOrStartDaemon() (int, error) {
	lockFile, err := lockfile.New(c.PidPath.ToString())
	if err != nil {
		// lockfile.New only errors when not given an absolute path; our
		// types enforce that, so an error here is a bug.
		panic(err)
	}
	daemonProcess, getOwnerErr := lockFile.GetOwner()
	if getOwnerErr == nil {
		return daemonProcess.Pid, nil
	}
	if errors.Is(getOwnerErr, os.ErrNotExist) || errors.Is(getOwnerErr, lockfile.ErrDeadOwner) {
		if c.Opts.DontStart {
			return 0, ErrDaemonNotRunning
		}
		pid, startErr := c.startDaemon()
		if startErr != nil {
			return 0, startErr
		}
		return pid, nil
	}
	return 0, errors.Wrapf(getOwnerErr, "issue was encountered with the pid file (%v)", c.PidPath)
}

func (c *Connector) getClientConn() (*Client, error) {
	creds := insecure.NewCredentials()
	conn, err := grpc.Dial(c.addr(), grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, err
	}
	tc := turbodprotocol.NewTurbodClient(conn)
	return &Client{
		TurbodClient: tc,
		ClientConn:   conn,
		SockPath:     c.SockPath,
		PidPath:      c.PidPath,
		LogPath:      c.LogPath,
	}, nil
}

func (c *Connector) sendHello(ctx context.Context, client turbodprotocol.TurbodClient) error {
	_, err := client.Hello(ctx, &turbodprotocol.HelloRequest{
		Version: c.TurboVersion,
		// TODO: add session id
	})
	status := status.Convert(err)
	switch status.Code() {
	case codes.OK:
		return nil
	case codes.FailedPrecondition:
		return ErrVersionMismatch
	case codes.Unavailable:
		return errConnectionFailure
	default:
		return err
	}
}

// waitForSocket waits for the daemon's socket file to appear.
func (c *Connector) waitForSocket() error {
	deadline := time.After(_socketPollTimeout)
	for !c.SockPath.FileExists() {
		select {
		case <-deadline:
			return ErrFailedToStart
		case <-time.After(_socketPollInterval):
		}
	}
	return nil
}

// startDaemon forks off a daemon process and returns its pid.
func (c *Connector) startDaemon() (int, error) {
	args := []string{"daemon"}
	if c.Opts.ServerTimeout != 0 {
		args = append(args, fmt.Sprintf("--idle-time=%v", c.Opts.ServerTimeout.String()))
	}
	c.Logger.Debug(fmt.Sprintf("starting turbod binary %v", c.Bin))
	cmd := exec.Command(c.Bin, args...)
	cmd.SysProcAttr = getSysProcAttrs()
	err := cmd.Start()
	if err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}
