package handler

import (
	"dattas/internal/ledger"
	"dattas/internal/names/models"
	id "dattas/pkg/domain"
)

type NameResponse struct {
	Account string     `json:"account"`
	Name    *string    `json:"name,omitempty"`
	NameHex string     `json:"name_hex"`
	Deposit id.Balance `json:"deposit"`
}

// NewNameResponse renders a record, including the text form when the name is UTF-8.
func NewNameResponse(account id.AccountID, record models.NameRecord) NameResponse {
	resp := NameResponse{
		Account: account.String(),
		NameHex: record.Name.Hex(),
		Deposit: record.Deposit,
	}
	if text, ok := record.Name.Text(); ok {
		resp.Name = &text
	}
	return resp
}

type NameListResponse struct {
	Names []NameResponse `json:"names"`
}

type EventResponse struct {
	Event string `json:"event"`
}

type ClearResponse struct {
	Event           string     `json:"event"`
	DepositRefunded id.Balance `json:"deposit_refunded"`
}

type KillResponse struct {
	Event          string     `json:"event"`
	DepositSlashed id.Balance `json:"deposit_slashed"`
}

type AccountResponse struct {
	Account  string     `json:"account"`
	Free     id.Balance `json:"free"`
	Reserved id.Balance `json:"reserved"`
}

func toAccountResponse(acc ledger.Account) AccountResponse {
	return AccountResponse{Account: acc.ID.String(), Free: acc.Free, Reserved: acc.Reserved}
}

type DepositCheckResponse struct {
	Account    string     `json:"account"`
	Named      bool       `json:"named"`
	Recorded   id.Balance `json:"recorded"`
	Reserved   id.Balance `json:"reserved"`
	Consistent bool       `json:"consistent"`
}
