package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"email-signer/shared"
)

func TestRegisterAccount(t *testing.T) {
	safe := common.HexToAddress("0x5afe")

	t.Run("Success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, registerPath, r.URL.Path)

			var body Registration
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, Registration{
				Email:       "a@b.com",
				AccountCode: "0x01",
				ChainID:     shared.SepoliaChainID,
				SafeAddress: safe.Hex(),
			}, body)
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		client := NewClient(server.URL, time.Second, shared.WrapLogger(zaptest.NewLogger(t), "backend-test"))
		require.NoError(t, client.RegisterAccount(context.Background(), "a@b.com", "0x01", shared.SepoliaChainID, safe))
	})

	t.Run("Rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "duplicate", http.StatusConflict)
		}))
		defer server.Close()

		client := NewClient(server.URL, time.Second, nil)
		err := client.RegisterAccount(context.Background(), "a@b.com", "0x01", 1, safe)

		var regErr *RegistrationError
		require.True(t, errors.As(err, &regErr))
		require.Equal(t, http.StatusConflict, regErr.StatusCode)
	})

	t.Run("Unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		client := NewClient(url, time.Second, nil)
		err := client.RegisterAccount(context.Background(), "a@b.com", "0x01", 1, safe)

		var regErr *RegistrationError
		require.True(t, errors.As(err, &regErr))
		require.Zero(t, regErr.StatusCode)
	})
}
