package shared

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Command template and email copy used for hash approval requests
const (
	SignHashCommandTemplate      = "signHash {uint}"
	SignatureRequestSubject      = "Safe Transaction Signature Request"
	UntrustedDelegateCallWarning = "!!!!!!!! Transaction includes an untrusted delegate call !!!!!!!!"
)

// ApprovalRequest is everything needed to ask the relayer for an email co-signature.
// It is immutable once submitted.
type ApprovalRequest struct {
	EmailAddress    string         `json:"email_address"`
	AccountCode     string         `json:"-"`
	SignerAddress   common.Address `json:"signer_address"`
	VaultAddress    common.Address `json:"vault_address"`
	HashToApprove   common.Hash    `json:"hash_to_approve"`
	CommandTemplate string         `json:"command_template"`
	TemplateID      *big.Int       `json:"template_id"`
	Subject         string         `json:"subject"`
	Body            string         `json:"body"`
}

// CommandParams returns the command parameters for the signHash template:
// the hash rendered as a decimal unsigned integer.
func (r *ApprovalRequest) CommandParams() []string {
	return []string{new(big.Int).SetBytes(r.HashToApprove.Bytes()).String()}
}

// TemplateIDHex renders the template id the way the relayer expects it (0x-prefixed, no padding)
func (r *ApprovalRequest) TemplateIDHex() string {
	if r.TemplateID == nil {
		return "0x0"
	}
	return "0x" + r.TemplateID.Text(16)
}

// SignatureRequestBody renders the email body asking the user to sign hash,
// prefixed by warning when one applies
func SignatureRequestBody(warning string, hash common.Hash) string {
	body := fmt.Sprintf("Please sign the safe transaction with hash: %s", hash.Hex())
	if warning == "" {
		return body
	}
	return warning + " " + body
}

// EmailProof is the zero-knowledge email proof returned by the relayer
type EmailProof struct {
	DomainName     string   `abi:"domainName"`
	PublicKeyHash  [32]byte `abi:"publicKeyHash"`
	Timestamp      *big.Int `abi:"timestamp"`
	MaskedCommand  string   `abi:"maskedCommand"`
	EmailNullifier [32]byte `abi:"emailNullifier"`
	AccountSalt    [32]byte `abi:"accountSalt"`
	IsCodeExist    bool     `abi:"isCodeExist"`
	Proof          []byte   `abi:"proof"`
}

// ProofMaterial is the structured proof tuple accepted by the signer's approveHash.
// Field order and abi tags follow the contract's EmailAuthMsg layout.
type ProofMaterial struct {
	TemplateID           *big.Int   `abi:"templateId"`
	CommandParams        [][]byte   `abi:"commandParams"`
	SkippedCommandPrefix *big.Int   `abi:"skippedCommandPrefix"`
	Proof                EmailProof `abi:"proof"`
}

// ProofStatusKind tags a ProofStatus variant
type ProofStatusKind int

const (
	ProofPending ProofStatusKind = iota
	ProofError
	ProofReady
)

func (k ProofStatusKind) String() string {
	switch k {
	case ProofPending:
		return "pending"
	case ProofError:
		return "error"
	case ProofReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ProofStatus is a tagged variant over Pending, Error(message) and Ready(material)
type ProofStatus struct {
	Kind     ProofStatusKind
	Message  string         // set for ProofError
	Material *ProofMaterial // set for ProofReady
}

// PendingStatus creates a pending status
func PendingStatus() ProofStatus {
	return ProofStatus{Kind: ProofPending}
}

// ErrorStatus creates an error status with the relayer's message
func ErrorStatus(message string) ProofStatus {
	return ProofStatus{Kind: ProofError, Message: message}
}

// ReadyStatus creates a ready status carrying the proof
func ReadyStatus(material *ProofMaterial) ProofStatus {
	return ProofStatus{Kind: ProofReady, Material: material}
}

// ApprovalOutcome is the terminal result of an approval flow
type ApprovalOutcome struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	Message         string `json:"message"`
}

// FailedOutcome creates an unsuccessful outcome
func FailedOutcome(message string) ApprovalOutcome {
	return ApprovalOutcome{Success: false, Message: message}
}
