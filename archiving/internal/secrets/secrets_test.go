package secrets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/secrets"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/secrets/providers/env"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/secrets/providers/memory"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    secrets.Ref
		wantErr bool
	}{
		{in: "env:ARKYVE_TERRA_TOKEN", want: secrets.Ref{Provider: "env", Path: "ARKYVE_TERRA_TOKEN"}},
		{in: "aws:prod/arkyve#token", want: secrets.Ref{Provider: "aws", Path: "prod/arkyve", Key: "token"}},
		{in: "memory:a:b", want: secrets.Ref{Provider: "memory", Path: "a:b"}},
		{in: "plain", wantErr: true},
		{in: ":path", wantErr: true},
		{in: "env:", wantErr: true},
		{in: "aws:#key", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := secrets.ParseRef(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, secrets.ErrInvalidRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestManager_Resolve(t *testing.T) {
	t.Setenv("ARKYVE_TEST_TOKEN", "from-env")
	mem := memory.New(map[string]string{
		"terra":    "tok",
		"hmac":     `{"access_key":"AK","port":9000}`,
		"not-json": "plain",
	})
	m := secrets.NewManager(nil, env.New(), mem)
	ctx := context.Background()

	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{ref: "env:ARKYVE_TEST_TOKEN", want: "from-env"},
		{ref: "memory:terra", want: "tok"},
		{ref: "memory:hmac#access_key", want: "AK"},
		{ref: "memory:hmac#port", want: "9000"},
		{ref: "memory:hmac#missing", wantErr: secrets.ErrSecretNotFound},
		{ref: "memory:absent", wantErr: secrets.ErrSecretNotFound},
		{ref: "env:ARKYVE_TEST_UNSET", wantErr: secrets.ErrSecretNotFound},
		{ref: "vault:x", wantErr: secrets.ErrInvalidRef},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := m.Resolve(ctx, tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := m.Resolve(ctx, "memory:not-json#k")
	var perr *secrets.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "memory", perr.Provider)
}

func TestManager_Register(t *testing.T) {
	m := secrets.NewManager(nil)
	require.NoError(t, m.Register(memory.New(nil)))
	assert.Error(t, m.Register(memory.New(nil)))
	assert.Error(t, m.Register(nil))

	v, err := m.ResolveOptional(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSecret_Clear(t *testing.T) {
	s := &secrets.Secret{Value: []byte("hunter2")}
	backing := s.Value
	s.Clear()
	assert.Nil(t, s.Value)
	assert.Equal(t, make([]byte, 7), backing)
}
