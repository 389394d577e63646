package handler

import (
	"encoding/hex"
	"strings"

	"dattas/internal/names/models"
	dErrors "dattas/pkg/domain-errors"
)

// NameRequest carries a name either as text or as hex for arbitrary bytes.
type NameRequest struct {
	Name    *string `json:"name,omitempty"`
	NameHex *string `json:"name_hex,omitempty"`

	decoded models.Name
}

func (r *NameRequest) Validate() error {
	switch {
	case r.Name != nil && r.NameHex != nil:
		return dErrors.New(dErrors.CodeBadRequest, "set exactly one of name and name_hex")
	case r.Name != nil:
		r.decoded = models.Name(*r.Name)
	case r.NameHex != nil:
		raw, err := hex.DecodeString(strings.TrimPrefix(*r.NameHex, "0x"))
		if err != nil {
			return dErrors.New(dErrors.CodeInvalidInput, "name_hex is not valid hex")
		}
		r.decoded = raw
	default:
		return dErrors.New(dErrors.CodeBadRequest, "name or name_hex is required")
	}
	if r.decoded == nil {
		r.decoded = models.Name{}
	}
	return nil
}

// Bytes is the decoded name; valid after Validate.
func (r *NameRequest) Bytes() models.Name {
	return r.decoded
}
