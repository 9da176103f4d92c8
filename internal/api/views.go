package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// transactionView is the JSON form of a transaction. Amounts are decimal
// strings so they survive JSON number precision.
type transactionView struct {
	Index            int            `json:"index"`
	To               common.Address `json:"to"`
	Value            string         `json:"value"`
	Data             hexutil.Bytes  `json:"data"`
	NumConfirmations int            `json:"num_confirmations"`
	Executed         bool           `json:"executed"`
	State            wallet.State   `json:"state"`
	SubmittedBy      common.Address `json:"submitted_by"`
	SubmittedAt      time.Time      `json:"submitted_at"`
	ExecutedAt       *time.Time     `json:"executed_at,omitempty"`
}

func toTransactionView(tx wallet.Transaction, threshold int) transactionView {
	data := tx.Data
	if data == nil {
		data = []byte{}
	}
	return transactionView{
		Index:            tx.Index,
		To:               tx.To,
		Value:            tx.Value.String(),
		Data:             data,
		NumConfirmations: tx.NumConfirmations,
		Executed:         tx.Executed,
		State:            tx.State(threshold),
		SubmittedBy:      tx.SubmittedBy,
		SubmittedAt:      tx.SubmittedAt,
		ExecutedAt:       tx.ExecutedAt,
	}
}

type submitRequest struct {
	To    string `json:"to"    binding:"required"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

type depositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type challengeRequest struct {
	Owner string `json:"owner" binding:"required"`
}

type tokenRequest struct {
	Owner     string `json:"owner"     binding:"required"`
	Signature string `json:"signature" binding:"required"`
}
