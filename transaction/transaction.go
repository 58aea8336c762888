package transaction

import (
	"sync/atomic"
)

// Transaction is the handle passed through index operations. The storage core does not interpret it;
// it exists so that a transaction manager layered on top can thread its state through without the
// core depending on it.
type Transaction interface {
	GetID() TxnID
}

type TxnID uint64

var noOpTxnCounter uint64 = 0

// TxnNoop returns a transaction handle that carries nothing but a fresh id.
func TxnNoop() Transaction {
	id := atomic.AddUint64(&noOpTxnCounter, 1)
	return txnNoop{
		id: TxnID(id),
	}
}

func TxnTODO() Transaction {
	return TxnNoop()
}

var _ Transaction = &txnNoop{}

type txnNoop struct {
	id TxnID
}

func (t txnNoop) GetID() TxnID {
	return t.id
}
