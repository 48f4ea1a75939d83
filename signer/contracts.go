package signer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const factoryABIJSON = `[
  {"type":"function","name":"predictAddress","stateMutability":"view",
   "inputs":[{"name":"accountSalt","type":"bytes32"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"deploy","stateMutability":"nonpayable",
   "inputs":[{"name":"accountSalt","type":"bytes32"}],
   "outputs":[{"name":"","type":"address"}]}
]`

const emailSignerABIJSON = `[
  {"type":"function","name":"templateId","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"dkimRegistryAddr","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"approveHash","stateMutability":"nonpayable",
   "inputs":[
     {"name":"hashToApprove","type":"bytes32"},
     {"name":"signature","type":"bytes"},
     {"name":"safe","type":"address"}],
   "outputs":[]}
]`

var (
	// FactoryABI is the email signer factory interface
	FactoryABI abi.ABI
	// EmailSignerABI is the email signer interface
	EmailSignerABI abi.ABI
)

func init() {
	FactoryABI = mustParseABI("factory", factoryABIJSON)
	EmailSignerABI = mustParseABI("email signer", emailSignerABIJSON)
}

func mustParseABI(name, definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid %s ABI: %v", name, err))
	}
	return parsed
}
