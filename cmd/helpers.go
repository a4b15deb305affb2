package cmd

import (
	"fmt"
	"os"

	"github.com/nextlevelbuilder/automator/internal/config"
	"github.com/nextlevelbuilder/automator/internal/executor"
	"github.com/nextlevelbuilder/automator/internal/store"
	"github.com/nextlevelbuilder/automator/internal/vault"
)

// services bundles the core wired over one data directory.
type services struct {
	cfg      *config.Config
	store    *store.Store
	vault    *vault.Vault
	injector *vault.Injector
	executor *executor.Executor
}

// openServices loads config, opens the store and initializes the vault.
// The caller must Close when done.
func openServices() (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	v := vault.New(cfg.DataDir)
	if err := v.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize vault: %w", err)
	}

	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		v.ClearKey()
		return nil, fmt.Errorf("open store: %w", err)
	}

	inj := vault.NewInjector(s, v)
	return &services{
		cfg:      cfg,
		store:    s,
		vault:    v,
		injector: inj,
		executor: executor.New(s, inj, cfg),
	}, nil
}

func (sv *services) Close() {
	sv.vault.ClearKey()
	if err := sv.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: close store: %s\n", err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	os.Exit(1)
}
