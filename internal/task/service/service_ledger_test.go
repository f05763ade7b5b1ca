package service

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"bluecarbon/internal/ledger"
	"bluecarbon/internal/ledger/ethereum"
	"bluecarbon/internal/task/models"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/requestcontext"
)

// chainNode accepts transactions and mines them only when told to. With
// evicting set it forgets everything it was sent, as a node does when its
// mempool drops a transaction.
type chainNode struct {
	mu       sync.Mutex
	sent     []*types.Transaction
	mined    map[common.Hash]bool
	evicting bool
}

func (n *chainNode) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return uint64(len(n.sent)), nil
}

func (n *chainNode) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (n *chainNode) EstimateGas(context.Context, gethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (n *chainNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, tx)
	return nil
}

func (n *chainNode) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mined[h] {
		return nil, gethereum.NotFound
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: h}, nil
}

func (n *chainNode) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.evicting {
		return nil, false, gethereum.NotFound
	}
	for _, tx := range n.sent {
		if tx.Hash() == h {
			return tx, !n.mined[h], nil
		}
	}
	return nil, false, gethereum.NotFound
}

func (n *chainNode) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	return 0, nil
}

func (n *chainNode) setEvicting(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evicting = v
}

// mineOnSend marks every later transaction as mined as soon as it is sent.
func (n *chainNode) mineOnSend() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, tx := range n.sent {
		n.mined[tx.Hash()] = true
	}
}

func (n *chainNode) submissions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (s *ServiceSuite) useChain(node *chainNode) {
	key, err := crypto.GenerateKey()
	s.Require().NoError(err)
	client, err := ethereum.New(node, ethereum.Config{
		PrivateKey:      hex.EncodeToString(crypto.FromECDSA(key)),
		ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		ChainID:         11155111,
		PollInterval:    time.Millisecond,
	}, nil)
	s.Require().NoError(err)
	s.service.ledger = client
}

func (s *ServiceSuite) TestApproveAndMintAfterNodeDropsTransaction() {
	node := &chainNode{mined: map[common.Hash]bool{}, evicting: true}
	s.useChain(node)
	s.expectIndustry(s.industry(wallet, "BC-001"))
	taskID := s.seedTask(models.StatusCompleted)

	_, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
	s.True(dErrors.HasCode(err, dErrors.CodeLedgerError))
	s.ErrorIs(err, ledger.ErrUnknownTransaction)
	dropped := s.taskState(taskID)
	s.Equal(models.StatusCompleted, dropped.Status)
	s.Nil(dropped.PendingTxHash, "a dropped hash is not awaited again")
	s.Equal(1, node.submissions())

	node.setEvicting(false)
	go func() {
		for node.submissions() < 2 {
			time.Sleep(time.Millisecond)
		}
		node.mineOnSend()
	}()

	task, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedAndMinted, task.Status)
	s.Equal(2, node.submissions(), "the retry resubmits")
}

func (s *ServiceSuite) TestStaleAttemptCannotOverwriteReclaimedMint() {
	s.expectIndustry(s.industry(wallet, "BC-001"))
	taskID := s.seedTask(models.StatusCompleted)

	staleWaiting := make(chan struct{})
	freshWaiting := make(chan struct{})
	releaseStale := make(chan error)
	releaseFresh := make(chan error)
	var calls atomic.Int32
	s.ledger.AwaitErr = func(ledger.Handle) error {
		if calls.Add(1) == 1 {
			close(staleWaiting)
			return <-releaseStale
		}
		close(freshWaiting)
		return <-releaseFresh
	}

	staleDone := make(chan error, 1)
	go func() {
		_, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		staleDone <- err
	}()
	<-staleWaiting

	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
	freshDone := make(chan error, 1)
	go func() {
		_, err := s.service.ApproveAndMint(later, taskID, "ipfs://meta")
		freshDone <- err
	}()
	<-freshWaiting

	releaseStale <- context.DeadlineExceeded
	s.True(dErrors.HasCode(<-staleDone, dErrors.CodeLedgerError))
	inFlight := s.taskState(taskID)
	s.Equal(models.StatusMinting, inFlight.Status, "the stale rollback is refused")
	s.NotNil(inFlight.PendingTxHash)

	releaseFresh <- nil
	s.Require().NoError(<-freshDone)
	minted := s.taskState(taskID)
	s.Equal(models.StatusApprovedAndMinted, minted.Status)
	s.Nil(minted.MintClaim)
	s.Len(s.ledger.Submitted(), 1, "the reclaim awaited the recorded transaction")
}
