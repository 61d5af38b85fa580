package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// Select enables Vault secrets only when VAULT_ADDR is set; otherwise
// secrets come from config and env alone.
func Select() fx.Option {
	if _, ok := os.LookupEnv("VAULT_ADDR"); ok {
		return Module
	}
	return fx.Options()
}

func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}
