package store_test

import (
	"testing"

	"github.com/warp/rent-ledger/billing"
	"github.com/warp/rent-ledger/billing/store"
	"github.com/warp/rent-ledger/billing/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) billing.Store {
		return store.NewMemory()
	})
}
