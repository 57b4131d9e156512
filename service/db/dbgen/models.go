package dbgen

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Rescue struct {
	Signature         string
	Network           string
	Kind              string
	CompromisedWallet string
	SafeWallet        string
	Status            string
	Slot              pgtype.Int8
	Attempts          int32
	Error             pgtype.Text
	WorkflowID        pgtype.Text
	FeeLamports       int64
	CreatedAt         pgtype.Timestamptz
	UpdatedAt         pgtype.Timestamptz
}
