package execution

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/deriv-trading/agent/internal/broker"
	"github.com/deriv-trading/agent/internal/correlator"
	"github.com/deriv-trading/agent/internal/models"
)

type fakeSender struct {
	nextID int64
	sent   []interface{}
}

func (f *fakeSender) Send(v interface{}) error {
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) NextReqID() int64 {
	f.nextID++
	return f.nextID
}

func TestOpenRunsProposalThenBuyAndTracksContract(t *testing.T) {
	sender := &fakeSender{}
	corr := correlator.New(sender)
	exec := New(corr, sender, "1HZ100V", "USD")

	go func() {
		time.Sleep(10 * time.Millisecond)
		corr.OnMessage([]byte(`{"req_id":1,"proposal":{"id":"abc123","ask_price":"10.50","spot_time":1000}}`))
		time.Sleep(10 * time.Millisecond)
		corr.OnMessage([]byte(`{"req_id":2,"buy":{"contract_id":555,"buy_price":"10.50","start_time":1000}}`))
	}()

	contract, err := exec.Open(context.Background(), OpenParams{
		Direction:        DirectionUp,
		Stake:            decimal.NewFromInt(10),
		BrokerTakeProfit: decimal.NewFromInt(20),
		BrokerStopLoss:   decimal.NewFromInt(5),
		Multiplier:       100,
		Reason:           ReasonPermissiveSpike,
	})
	assert.NoError(t, err)
	if assert.NotNil(t, contract) {
		assert.Equal(t, int64(555), contract.ContractID)
		assert.True(t, contract.BuyPrice.Equal(decimal.NewFromFloat(10.50)))
	}

	open := exec.OpenContracts()
	assert.Len(t, open, 1)
}

func TestCloseRejectsUnknownContract(t *testing.T) {
	sender := &fakeSender{}
	corr := correlator.New(sender)
	exec := New(corr, sender, "1HZ100V", "USD")

	_, err := exec.Close(context.Background(), 999, ReasonTakeProfit)
	assert.ErrorIs(t, err, models.ErrNoOpenContract)
}

func TestHandleContractFrameClosesOnBrokerSideIsSold(t *testing.T) {
	sender := &fakeSender{}
	corr := correlator.New(sender)
	exec := New(corr, sender, "1HZ100V", "USD")

	exec.mu.Lock()
	exec.open[555] = &Contract{ContractID: 555, BuyPrice: decimal.NewFromInt(10)}
	exec.mu.Unlock()

	var closed []Close
	exec.OnClose(func(c Close) { closed = append(closed, c) })

	frame := broker.ProposalOpenContractStream{}
	frame.ProposalOpenContract.ContractID = 555
	frame.ProposalOpenContract.IsSold = true
	frame.ProposalOpenContract.SellPrice = decimal.NewFromInt(12)
	profit := decimal.NewFromInt(2)
	frame.ProposalOpenContract.Profit = &profit

	raw, err := json.Marshal(frame)
	assert.NoError(t, err)
	exec.handleContractFrame(raw)

	if assert.Len(t, closed, 1) {
		assert.Equal(t, int64(555), closed[0].ContractID)
		assert.True(t, closed[0].Profit.Equal(decimal.NewFromInt(2)))
	}

	assert.Empty(t, exec.OpenContracts())
}

func TestHandleContractFrameIgnoresStillOpenContract(t *testing.T) {
	sender := &fakeSender{}
	corr := correlator.New(sender)
	exec := New(corr, sender, "1HZ100V", "USD")

	exec.mu.Lock()
	exec.open[555] = &Contract{ContractID: 555}
	exec.mu.Unlock()

	frame := broker.ProposalOpenContractStream{}
	frame.ProposalOpenContract.ContractID = 555
	frame.ProposalOpenContract.IsSold = false

	raw, err := json.Marshal(frame)
	assert.NoError(t, err)
	exec.handleContractFrame(raw)

	assert.Len(t, exec.OpenContracts(), 1)
}
