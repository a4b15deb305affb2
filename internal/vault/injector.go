package vault

import (
	"context"
	"fmt"
	"sort"

	"github.com/nextlevelbuilder/automator/internal/store"
)

// Injector resolves credential name sets to plaintext values for the
// executor, stamping last-used on successful decrypts.
type Injector struct {
	store *store.Store
	vault *Vault
}

// NewInjector wires an injector over the store and vault.
func NewInjector(s *store.Store, v *Vault) *Injector {
	return &Injector{store: s, vault: v}
}

// InjectResult reports the outcome of resolving a name set. Missing names
// and per-name decrypt errors are kept apart so partial successes stay
// visible.
type InjectResult struct {
	Success     bool
	Credentials map[string]string
	Missing     []string
	Errors      []string
}

// InjectForTask resolves the deduplicated name set to plaintext values.
// Encrypted blobs are fetched in one store call; each decrypt failure is
// recorded without aborting the rest.
func (inj *Injector) InjectForTask(ctx context.Context, names []string) *InjectResult {
	res := &InjectResult{Credentials: map[string]string{}}

	wanted := dedupe(names)
	blobs, err := inj.store.EncryptedValues(ctx, wanted)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("fetch credentials: %v", err))
		return res
	}

	for _, name := range wanted {
		blob, ok := blobs[name]
		if !ok {
			exists, err := inj.store.CredentialExists(ctx, name)
			res.Missing = append(res.Missing, name)
			switch {
			case err != nil:
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
			case exists:
				res.Errors = append(res.Errors, fmt.Sprintf("credential %s exists but has no value stored", name))
			default:
				res.Errors = append(res.Errors, fmt.Sprintf("credential %s not found", name))
			}
			continue
		}

		plaintext, err := inj.vault.Decrypt(blob)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("credential %s: %v", name, err))
			continue
		}
		res.Credentials[name] = string(plaintext)
		wipe(plaintext)

		if err := inj.store.TouchCredential(ctx, name); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("credential %s: stamp last used: %v", name, err))
		}
	}

	res.Success = len(res.Missing) == 0 && len(res.Errors) == 0
	return res
}

// Validate reports which names exist with a stored value, without
// decrypting anything.
func (inj *Injector) Validate(ctx context.Context, names []string) (valid, missing []string, err error) {
	wanted := dedupe(names)
	blobs, err := inj.store.EncryptedValues(ctx, wanted)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range wanted {
		if _, ok := blobs[name]; ok {
			valid = append(valid, name)
		} else {
			missing = append(missing, name)
		}
	}
	return valid, missing, nil
}

// Clear overwrites every entry and empties the map. Go strings are
// immutable, so this is best-effort: the map no longer references the
// plaintext and the replacement values are zero-length.
func Clear(creds map[string]string) {
	for k := range creds {
		creds[k] = ""
		delete(creds, k)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
