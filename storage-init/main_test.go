package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

func TestAlreadyExists(t *testing.T) {
	tableErr := &azcore.ResponseError{ErrorCode: string(aztables.TableAlreadyExists), StatusCode: 409}
	queueErr := &azcore.ResponseError{ErrorCode: queueAlreadyExists, StatusCode: 409}

	tests := map[string]struct {
		err  error
		code string
		want bool
	}{
		"table exists":        {err: tableErr, code: string(aztables.TableAlreadyExists), want: true},
		"wrapped queue":       {err: fmt.Errorf("create: %w", queueErr), code: queueAlreadyExists, want: true},
		"different code":      {err: queueErr, code: string(aztables.TableAlreadyExists)},
		"not a service error": {err: errors.New("dial tcp: refused"), code: queueAlreadyExists},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := alreadyExists(tc.err, tc.code); got != tc.want {
				t.Fatalf("alreadyExists=%v, want %v", got, tc.want)
			}
		})
	}
}
