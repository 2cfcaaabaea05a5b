package verify

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Good-Security/shadowpulse/internal/models"
)

func TestClassifyNetError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ArtifactStatus
	}{
		{"glibc resolver", errors.New("dial tcp: lookup x.test: Name or service not known"), models.StatusUnresolved},
		{"musl resolver", errors.New("temporary failure in name resolution"), models.StatusUnresolved},
		{"bsd resolver", errors.New("nodename nor servname provided, or not known"), models.StatusUnresolved},
		{"go resolver", &net.DNSError{Err: "no such host", Name: "x.test", IsNotFound: true}, models.StatusUnresolved},
		{"refused", errors.New("dial tcp 1.2.3.4:80: connect: connection refused"), models.StatusClosed},
		{"timeout", errors.New("context deadline exceeded"), models.StatusClosed},
		{"reset", errors.New("read: connection reset by peer"), models.StatusClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := classifyNetError(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestIsDNSErrorNil(t *testing.T) {
	assert.False(t, isDNSError(nil))
}

func TestIsDNSErrorWrapped(t *testing.T) {
	inner := &net.DNSError{Err: "no such host", Name: "x.test", IsNotFound: true}
	wrapped := &net.OpError{Op: "dial", Net: "tcp", Err: inner}
	assert.True(t, isDNSError(wrapped))
}
