package safe

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Safe 1.3.0 proxy factory
const proxyFactoryABIJSON = `[
  {"type":"function","name":"createProxyWithNonce","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_singleton","type":"address"},
     {"name":"initializer","type":"bytes"},
     {"name":"saltNonce","type":"uint256"}],
   "outputs":[{"name":"proxy","type":"address"}]},
  {"type":"function","name":"proxyCreationCode","stateMutability":"pure",
   "inputs":[],
   "outputs":[{"name":"","type":"bytes"}]},
  {"type":"event","name":"ProxyCreation","anonymous":false,
   "inputs":[
     {"name":"proxy","type":"address","indexed":false},
     {"name":"singleton","type":"address","indexed":false}]}
]`

// Safe 1.3.0 singleton, setup only
const safeABIJSON = `[
  {"type":"function","name":"setup","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_owners","type":"address[]"},
     {"name":"_threshold","type":"uint256"},
     {"name":"to","type":"address"},
     {"name":"data","type":"bytes"},
     {"name":"fallbackHandler","type":"address"},
     {"name":"paymentToken","type":"address"},
     {"name":"payment","type":"uint256"},
     {"name":"paymentReceiver","type":"address"}],
   "outputs":[]}
]`

var (
	ProxyFactoryABI abi.ABI
	SafeABI         abi.ABI
)

func init() {
	var err error
	if ProxyFactoryABI, err = abi.JSON(strings.NewReader(proxyFactoryABIJSON)); err != nil {
		panic(fmt.Sprintf("invalid proxy factory ABI: %v", err))
	}
	if SafeABI, err = abi.JSON(strings.NewReader(safeABIJSON)); err != nil {
		panic(fmt.Sprintf("invalid safe ABI: %v", err))
	}
}
