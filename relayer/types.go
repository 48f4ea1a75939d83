package relayer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"email-signer/shared"
)

// API paths
const (
	accountSaltPath = "/api/accountSalt"
	submitPath      = "/api/submit"
	statusPath      = "/api/status/"
)

type accountSaltRequest struct {
	AccountCode  string `json:"accountCode"`
	EmailAddress string `json:"emailAddress"`
}

type accountSaltResponse struct {
	AccountSalt string `json:"accountSalt"`
}

// SubmitRequest is the body of POST /api/submit
type SubmitRequest struct {
	AccountCode       string   `json:"accountCode"`
	CodeExistsInEmail bool     `json:"codeExistsInEmail"`
	CommandTemplate   string   `json:"commandTemplate"`
	CommandParams     []string `json:"commandParams"`
	TemplateID        string   `json:"templateId"`
	EmailAddress      string   `json:"emailAddress"`
	Subject           string   `json:"subject"`
	Body              string   `json:"body"`
}

// NewSubmitRequest maps an ApprovalRequest onto the relayer wire format
func NewSubmitRequest(req *shared.ApprovalRequest) SubmitRequest {
	return SubmitRequest{
		AccountCode:       req.AccountCode,
		CodeExistsInEmail: true,
		CommandTemplate:   req.CommandTemplate,
		CommandParams:     req.CommandParams(),
		TemplateID:        req.TemplateIDHex(),
		EmailAddress:      req.EmailAddress,
		Subject:           req.Subject,
		Body:              req.Body,
	}
}

type submitResponse struct {
	ID json.RawMessage `json:"id"`
}

// statusResponse is GET /api/status/{id}. Both fields are optional;
// neither present means the proof is still pending.
type statusResponse struct {
	Error    json.RawMessage    `json:"error,omitempty"`
	Response *proofMaterialJSON `json:"response,omitempty"`
}

type proofMaterialJSON struct {
	TemplateID           flexBigInt      `json:"templateId"`
	CommandParams        []hexutil.Bytes `json:"commandParams"`
	SkippedCommandPrefix flexBigInt      `json:"skippedCommandPrefix"`
	Proof                emailProofJSON  `json:"proof"`
}

type emailProofJSON struct {
	DomainName     string        `json:"domainName"`
	PublicKeyHash  common.Hash   `json:"publicKeyHash"`
	Timestamp      flexBigInt    `json:"timestamp"`
	MaskedCommand  string        `json:"maskedCommand"`
	EmailNullifier common.Hash   `json:"emailNullifier"`
	AccountSalt    common.Hash   `json:"accountSalt"`
	IsCodeExist    bool          `json:"isCodeExist"`
	Proof          hexutil.Bytes `json:"proof"`
}

func (p *proofMaterialJSON) toMaterial() *shared.ProofMaterial {
	params := make([][]byte, len(p.CommandParams))
	for i, param := range p.CommandParams {
		params[i] = []byte(param)
	}
	return &shared.ProofMaterial{
		TemplateID:           p.TemplateID.Int(),
		CommandParams:        params,
		SkippedCommandPrefix: p.SkippedCommandPrefix.Int(),
		Proof: shared.EmailProof{
			DomainName:     p.Proof.DomainName,
			PublicKeyHash:  p.Proof.PublicKeyHash,
			Timestamp:      p.Proof.Timestamp.Int(),
			MaskedCommand:  p.Proof.MaskedCommand,
			EmailNullifier: p.Proof.EmailNullifier,
			AccountSalt:    p.Proof.AccountSalt,
			IsCodeExist:    p.Proof.IsCodeExist,
			Proof:          []byte(p.Proof.Proof),
		},
	}
}

// flexBigInt accepts a JSON number, a decimal string or a 0x-prefixed hex string
type flexBigInt struct {
	v *big.Int
}

func (f *flexBigInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		f.v = new(big.Int)
		return nil
	}

	var text string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	} else {
		text = string(data)
	}

	v, err := parseBigInt(text)
	if err != nil {
		return err
	}
	f.v = v
	return nil
}

// Int returns the parsed value, zero when absent
func (f flexBigInt) Int() *big.Int {
	if f.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(f.v)
}

func parseBigInt(text string) (*big.Int, error) {
	text = strings.TrimSpace(text)
	base := 10
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		text = text[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(text, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid unsigned integer %q", text)
	}
	return v, nil
}

// errorMessage renders the relayer's error field, which may be a string or any JSON value
func errorMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if bytes.Equal(raw, []byte("false")) {
		return ""
	}
	return string(raw)
}

// handleFromID normalizes the submit response id, which may be a string or a number
func handleFromID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing id in relayer response")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("empty id in relayer response")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("unexpected id in relayer response: %s", string(raw))
}
