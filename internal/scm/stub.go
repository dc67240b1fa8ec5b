// Adapted from https://github.com/thought-machine/please/tree/master/src/scm
// Copyright Thought Machine, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0
package scm

import "fmt"

type stub struct{}

func (s *stub) ChangedFiles(_fromCommit string, _toCommit string, _relativeTo string) ([]string, error) {
	return nil, nil
}

func (s *stub) PreviousContent(fromCommit string, filePath string) ([]byte, error) {
	return nil, fmt.Errorf("unknown SCM, can't get content of %v at %v", filePath, fromCommit)
}
