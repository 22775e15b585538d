package near

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Networks models the structure of configs/networks.yaml.
type Networks struct {
	Networks map[string]Network `yaml:"networks"`
}

// Network describes the endpoints and contracts of one NEAR network.
type Network struct {
	RPCURL        string `yaml:"rpc_url"`
	FaucetURL     string `yaml:"faucet_url"`
	IndexerURL    string `yaml:"indexer_url"`
	WrapContract  string `yaml:"wrap_contract"`
	DEXContract   string `yaml:"dex_contract"`
	AccountSuffix string `yaml:"account_suffix"`
	ExplorerURL   string `yaml:"explorer_url"`
	Description   string `yaml:"description"`
}

// DefaultNetworks returns the built-in testnet and mainnet presets.
func DefaultNetworks() Networks {
	return Networks{Networks: map[string]Network{
		"testnet": {
			RPCURL:        "https://rpc.testnet.near.org",
			FaucetURL:     "https://helper.testnet.near.org/account",
			IndexerURL:    "https://testnet-indexer.ref-finance.com/list-token-price",
			WrapContract:  "wrap.testnet",
			DEXContract:   "ref-finance-101.testnet",
			AccountSuffix: ".testnet",
			ExplorerURL:   "https://testnet.nearblocks.io/txns/",
			Description:   "NEAR testnet",
		},
		"mainnet": {
			RPCURL:        "https://rpc.mainnet.near.org",
			IndexerURL:    "https://indexer.ref.finance/list-token-price",
			WrapContract:  "wrap.near",
			DEXContract:   "v2.ref-finance.near",
			AccountSuffix: ".near",
			ExplorerURL:   "https://nearblocks.io/txns/",
			Description:   "NEAR mainnet",
		},
	}}
}

// LoadNetworks parses the YAML file containing network definitions. Entries
// in the file override the built-in presets of the same name.
func LoadNetworks(path string) (Networks, error) {
	defs := DefaultNetworks()
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Networks{}, fmt.Errorf("读取网络配置失败: %w", err)
	}

	var parsed Networks
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return Networks{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	for name, network := range parsed.Networks {
		defs.Networks[strings.ToLower(strings.TrimSpace(name))] = network
	}
	return defs, nil
}

// Lookup returns the named network definition.
func (n Networks) Lookup(name string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	network, ok := n.Networks[key]
	if !ok {
		return Network{}, fmt.Errorf("未知的网络: %s", name)
	}
	if strings.TrimSpace(network.RPCURL) == "" {
		return Network{}, fmt.Errorf("网络 %s 未配置 rpc_url", name)
	}
	return network, nil
}

// ExplorerLink returns a transaction explorer URL, or an empty string when
// the network has no explorer configured.
func (n Network) ExplorerLink(txHash string) string {
	if n.ExplorerURL == "" || txHash == "" {
		return ""
	}
	return n.ExplorerURL + txHash
}
