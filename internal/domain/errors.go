package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("not found")
	// ErrInvalidProjectStatus indicates the action is illegal for the current project status.
	ErrInvalidProjectStatus = errors.New("invalid project status")
	// ErrComponentSettingNotFound indicates a component has no stored setting.
	ErrComponentSettingNotFound = fmt.Errorf("component setting %w", ErrNotFound)
	// ErrDeploymentNotFound indicates the project has no persisted deployment snapshot.
	ErrDeploymentNotFound = fmt.Errorf("deployment %w", ErrNotFound)
	// ErrSecretBroker indicates the wrapped token could not be issued.
	ErrSecretBroker = errors.New("secret broker error")
	// ErrSerialization indicates a command envelope could not be encoded.
	ErrSerialization = errors.New("serialization error")
	// ErrInternal marks unexpected faults.
	ErrInternal = errors.New("internal error")
	// ErrDispatch indicates the message broker did not accept a command.
	ErrDispatch = fmt.Errorf("dispatch failed: %w", ErrInternal)
	// ErrInvalidArgument indicates malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAlreadyExists indicates a uniqueness conflict.
	ErrAlreadyExists = errors.New("already exists")
)
