package authsig

import (
	"fmt"

	"github.com/cybergodev/authsig/internal/canonical"
)

const (
	maxStringLength = 256
	maxURILength    = 2048
	maxArraySize    = 100
	maxExtraSize    = 50
)

// validatePayload rejects claim sets that no verifier should be asked to
// accept: oversized or control-character strings, malformed hashes and
// unparsable wildcard paths.
func validatePayload(p *Payload) error {
	fields := []struct {
		name  string
		value string
	}{
		{"sub", p.Subject},
		{"iss", p.Issuer},
		{"jti", p.ID},
		{"azp", p.AuthorizedParty},
	}
	for _, f := range fields {
		if err := validateString(ErrInvalidPayload, f.name, f.value, maxStringLength); err != nil {
			return err
		}
	}

	if err := validateStringArray(ErrInvalidPayload, "aud", p.Audience); err != nil {
		return err
	}
	if err := validateDigest("requestHash", p.RequestHash); err != nil {
		return err
	}
	if err := validateDigest("data", p.Data); err != nil {
		return err
	}

	if len(p.HashWildcard) > maxArraySize {
		return newError(ErrInvalidPayload, "hashWildcard", fmt.Sprintf("too many paths: maximum %d allowed", maxArraySize), nil)
	}
	for _, path := range p.HashWildcard {
		if _, err := canonical.SplitPath(path); err != nil {
			return newError(ErrInvalidPayload, "hashWildcard", "invalid path", err)
		}
	}

	if len(p.Access) > maxArraySize {
		return newError(ErrInvalidPayload, "access", fmt.Sprintf("too many grants: maximum %d allowed", maxArraySize), nil)
	}
	for _, grant := range p.Access {
		if grant.Resource == "" {
			return newError(ErrInvalidPayload, "access", "grant without resource", nil)
		}
		if err := validateString(ErrInvalidPayload, "access", grant.Resource, maxStringLength); err != nil {
			return err
		}
		if err := validateStringArray(ErrInvalidPayload, "access", grant.Permissions); err != nil {
			return err
		}
	}

	if p.Confirmation != nil && p.Confirmation.Key != nil && p.Confirmation.Key.IsPrivate() {
		return newError(ErrInvalidKeyMaterial, "cnf", "confirmation key must be public", nil)
	}

	if len(p.Extra) > maxExtraSize {
		return newError(ErrInvalidPayload, "extra", fmt.Sprintf("too many fields: maximum %d allowed", maxExtraSize), nil)
	}
	for key := range p.Extra {
		if err := validateString(ErrInvalidPayload, key, key, maxStringLength); err != nil {
			return err
		}
	}
	return nil
}

func validateHeader(h *Header) error {
	if err := validateString(ErrInvalidHeader, "kid", h.Kid, maxStringLength); err != nil {
		return err
	}
	if h.Typ != "" && h.Typ != TypeJWT && h.Typ != TypeJWSD {
		return newError(ErrInvalidHeader, "typ", "must be "+TypeJWT+" or "+TypeJWSD, nil)
	}
	if err := validateString(ErrInvalidHeader, "htm", h.Htm, maxStringLength); err != nil {
		return err
	}
	if err := validateString(ErrInvalidHeader, "uri", h.URI, maxURILength); err != nil {
		return err
	}
	if err := validateStringArray(ErrInvalidHeader, "crit", h.Crit); err != nil {
		return err
	}
	for _, name := range h.Crit {
		if _, ok := h.Extra[name]; ok {
			continue
		}
		if !headerHasField(h, name) {
			return newError(ErrUnrecognizedExtension, "crit", name+" is critical but absent", nil)
		}
	}
	return nil
}

func headerHasField(h *Header, name string) bool {
	switch name {
	case "htm":
		return h.Htm != ""
	case "uri":
		return h.URI != ""
	case "created":
		return h.Created != 0
	case "ath":
		return h.Ath != ""
	}
	return false
}

func validateDigest(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := ParseHex(value); err != nil {
		return newError(ErrInvalidPayload, field, "must be a 0x hex digest", err)
	}
	return nil
}

func validateStringArray(kind error, name string, items []string) error {
	if len(items) > maxArraySize {
		return newError(kind, name, fmt.Sprintf("too many items: maximum %d allowed", maxArraySize), nil)
	}
	for _, item := range items {
		if err := validateString(kind, name, item, maxStringLength); err != nil {
			return err
		}
	}
	return nil
}

func validateString(kind error, field, value string, maxLength int) error {
	if len(value) == 0 {
		return nil
	}
	if len(value) > maxLength {
		return newError(kind, field, fmt.Sprintf("too long: maximum %d characters", maxLength), nil)
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 32 || value[i] == 127 {
			return newError(kind, field, "contains invalid control character", nil)
		}
	}
	return nil
}
