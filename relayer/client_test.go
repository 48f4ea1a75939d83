package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"email-signer/shared"
)

const readyStatusBody = `{
  "response": {
    "templateId": "0x1f",
    "commandParams": ["0x0000000000000000000000000000000000000000000000000000000000000abc"],
    "skippedCommandPrefix": 0,
    "proof": {
      "domainName": "gmail.com",
      "publicKeyHash": "0x0ea9c777dc7110e5a9e89b13f0cfc540e3845ba120b2b6dc24024d61488d4788",
      "timestamp": 1715000000,
      "maskedCommand": "signHash 2748",
      "emailNullifier": "0x1111111111111111111111111111111111111111111111111111111111111111",
      "accountSalt": "0x2222222222222222222222222222222222222222222222222222222222222222",
      "isCodeExist": true,
      "proof": "0xdeadbeef"
    }
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", 5*time.Second, shared.WrapLogger(zaptest.NewLogger(t), "relayer-test"))
}

func TestAccountSalt(t *testing.T) {
	salt := "0x" + strings.Repeat("ab", 32)

	t.Run("Success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, accountSaltPath, r.URL.Path)
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NotEmpty(t, r.Header.Get("X-Request-Id"))

			var body accountSaltRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "0x01", body.AccountCode)
			require.Equal(t, "a@b.com", body.EmailAddress)

			w.Write([]byte(`{"accountSalt":"` + salt + `"}`))
		})

		got, err := client.AccountSalt(context.Background(), "0x01", "a@b.com")
		require.NoError(t, err)
		require.Equal(t, common.HexToHash(salt), got)
	})

	t.Run("NonOK", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		_, err := client.AccountSalt(context.Background(), "0x01", "a@b.com")
		var relayerErr *shared.RelayerError
		require.True(t, errors.As(err, &relayerErr))
		require.Equal(t, http.StatusInternalServerError, relayerErr.StatusCode)
	})

	t.Run("BadSalt", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"accountSalt":"nope"}`))
		})

		_, err := client.AccountSalt(context.Background(), "0x01", "a@b.com")
		require.Error(t, err)
		var relayerErr *shared.RelayerError
		require.ErrorAs(t, err, &relayerErr)
		require.False(t, relayerErr.Transient())
	})
}

func TestSubmitSignatureRequest(t *testing.T) {
	hash := common.HexToHash("0xabc")
	req := &shared.ApprovalRequest{
		EmailAddress:    "a@b.com",
		AccountCode:     "0x1234",
		HashToApprove:   hash,
		CommandTemplate: shared.SignHashCommandTemplate,
		TemplateID:      big.NewInt(31),
		Subject:         shared.SignatureRequestSubject,
		Body:            "Please sign the safe transaction with hash: " + hash.Hex(),
	}

	t.Run("Payload", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, submitPath, r.URL.Path)

			var body SubmitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "0x1234", body.AccountCode)
			require.True(t, body.CodeExistsInEmail)
			require.Equal(t, "signHash {uint}", body.CommandTemplate)
			require.Equal(t, []string{"2748"}, body.CommandParams)
			require.Equal(t, "0x1f", body.TemplateID)
			require.Equal(t, "a@b.com", body.EmailAddress)
			require.Equal(t, "Safe Transaction Signature Request", body.Subject)

			w.Write([]byte(`{"id":"req-1"}`))
		})

		handle, err := client.SubmitSignatureRequest(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, "req-1", handle)
	})

	t.Run("NumericID", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":42}`))
		})

		handle, err := client.SubmitSignatureRequest(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, "42", handle)
	})

	t.Run("ServerError", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			http.Error(w, "relayer down", http.StatusInternalServerError)
		})

		_, err := client.SubmitSignatureRequest(context.Background(), req)
		var relayerErr *shared.RelayerError
		require.True(t, errors.As(err, &relayerErr))
		require.Equal(t, "submit", relayerErr.Operation)
		require.Contains(t, relayerErr.Body, "relayer down")
	})
}

func TestGetProofStatus(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		kind    shared.ProofStatusKind
		message string
	}{
		{name: "Pending", body: `{}`, kind: shared.ProofPending},
		{name: "PendingNullResponse", body: `{"response":null}`, kind: shared.ProofPending},
		{name: "Error", body: `{"error":"proof generation failed"}`, kind: shared.ProofError, message: "proof generation failed"},
		{name: "EmptyErrorIsPending", body: `{"error":""}`, kind: shared.ProofPending},
		{name: "Malformed", body: `{"response":`, kind: shared.ProofError},
		{name: "SchemaViolation", body: `{"response":{"templateId":1}}`, kind: shared.ProofError},
		{name: "Ready", body: readyStatusBody, kind: shared.ProofReady},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				require.Equal(t, statusPath+"req-1", r.URL.Path)
				w.Write([]byte(tc.body))
			})

			status, err := client.GetProofStatus(context.Background(), "req-1")
			require.NoError(t, err)
			require.Equal(t, tc.kind, status.Kind)
			if tc.message != "" {
				require.Equal(t, tc.message, status.Message)
			}
		})
	}

	t.Run("ReadyMaterial", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(readyStatusBody))
		})

		status, err := client.GetProofStatus(context.Background(), "req-1")
		require.NoError(t, err)
		require.Equal(t, shared.ProofReady, status.Kind)

		m := status.Material
		require.Equal(t, int64(31), m.TemplateID.Int64())
		require.Len(t, m.CommandParams, 1)
		require.Len(t, m.CommandParams[0], 32)
		require.Equal(t, int64(0), m.SkippedCommandPrefix.Int64())
		require.Equal(t, "gmail.com", m.Proof.DomainName)
		require.Equal(t, int64(1715000000), m.Proof.Timestamp.Int64())
		require.True(t, m.Proof.IsCodeExist)
		require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, m.Proof.Proof)
	})

	t.Run("HTTPErrorIsRelayerError", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unknown id", http.StatusNotFound)
		})

		_, err := client.GetProofStatus(context.Background(), "req-1")
		var relayerErr *shared.RelayerError
		require.True(t, errors.As(err, &relayerErr))
		require.False(t, relayerErr.Transient())
	})

	t.Run("TransportErrorIsTransient", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		client := NewClient(server.URL, time.Second, nil)

		_, err := client.GetProofStatus(context.Background(), "req-1")
		require.Error(t, err)
		var relayerErr *shared.RelayerError
		require.ErrorAs(t, err, &relayerErr)
		require.True(t, relayerErr.Transient())
	})
}

func TestFlexBigInt(t *testing.T) {
	for input, want := range map[string]int64{
		`12`:     12,
		`"12"`:   12,
		`"0x1f"`: 31,
		`null`:   0,
	} {
		var f flexBigInt
		require.NoError(t, json.Unmarshal([]byte(input), &f), input)
		require.Equal(t, want, f.Int().Int64(), input)
	}

	var f flexBigInt
	require.Error(t, json.Unmarshal([]byte(`"-1"`), &f))
	require.Error(t, json.Unmarshal([]byte(`"zz"`), &f))
}
