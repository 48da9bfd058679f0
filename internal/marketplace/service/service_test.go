package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"custodia/internal/configstore"
	"custodia/internal/custody"
	"custodia/internal/ledger"
	"custodia/internal/marketplace/models"
	"custodia/internal/marketplace/store/listing"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/events"
	"custodia/pkg/requestcontext"
)

type MarketplaceServiceSuite struct {
	suite.Suite
	ledger   *ledger.Memory
	listings *listing.InMemory
	events   *events.MemoryStore
	service  *Service

	admin        id.Identity
	feeRecipient id.Identity
	seller       id.Identity
	buyer        id.Identity
	mintAuth     id.Identity
}

func TestMarketplaceServiceSuite(t *testing.T) {
	suite.Run(t, new(MarketplaceServiceSuite))
}

func (s *MarketplaceServiceSuite) SetupTest() {
	s.ledger = ledger.NewMemory()
	s.listings = listing.NewInMemory()
	s.events = events.NewMemoryStore()

	s.admin = id.NewIdentity()
	s.feeRecipient = id.NewIdentity()
	s.seller = id.NewIdentity()
	s.buyer = id.NewIdentity()
	s.mintAuth = id.NewIdentity()

	deriver := custody.NewDeriver("marketplace", []byte("test-seed"))
	publisher := events.NewPublisher(s.events)
	s.service = New(
		configstore.NewMemory[models.Config](),
		s.listings,
		s.ledger,
		deriver,
		WithEmitter(publisher.Emitter("marketplace")),
	)

	_, err := s.service.Initialize(context.Background(), s.admin, s.feeRecipient, 250)
	s.Require().NoError(err)
}

func (s *MarketplaceServiceSuite) as(caller id.Identity) context.Context {
	return requestcontext.WithCaller(context.Background(), caller)
}

// newAsset mints a fresh unit asset into a token account owned by holder and
// returns the asset and account address.
func (s *MarketplaceServiceSuite) newAsset(holder id.Identity) (id.AssetID, id.Identity) {
	asset := id.NewAssetID()
	account := id.NewIdentity()
	s.ledger.CreateMint(asset, s.mintAuth)
	err := s.ledger.InTx(context.Background(), func(tx ledger.Tx) error {
		if err := tx.CreateAccount(account, asset, holder); err != nil {
			return err
		}
		return tx.MintTo(asset, account, ledger.Signer(s.mintAuth), 1)
	})
	s.Require().NoError(err)
	return asset, account
}

// newAccount creates an empty token account for the asset owned by holder.
func (s *MarketplaceServiceSuite) newAccount(asset id.AssetID, holder id.Identity) id.Identity {
	account := id.NewIdentity()
	err := s.ledger.InTx(context.Background(), func(tx ledger.Tx) error {
		return tx.CreateAccount(account, asset, holder)
	})
	s.Require().NoError(err)
	return account
}

func (s *MarketplaceServiceSuite) balance(holder id.Identity) uint64 {
	var out uint64
	err := s.ledger.InTx(context.Background(), func(tx ledger.Tx) error {
		b, err := tx.Balance(holder)
		out = b
		return err
	})
	s.Require().NoError(err)
	return out
}

func (s *MarketplaceServiceSuite) tokenBalance(account id.Identity) uint64 {
	var out uint64
	err := s.ledger.InTx(context.Background(), func(tx ledger.Tx) error {
		acct, err := tx.Account(account)
		out = acct.Balance
		return err
	})
	s.Require().NoError(err)
	return out
}

func (s *MarketplaceServiceSuite) TestInitialize() {
	s.Run("second initialize fails", func() {
		_, err := s.service.Initialize(context.Background(), s.admin, s.feeRecipient, 250)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("fee above cap rejected", func() {
		svc := New(configstore.NewMemory[models.Config](), s.listings, s.ledger,
			custody.NewDeriver("marketplace", []byte("other-seed")))
		_, err := svc.Initialize(context.Background(), s.admin, s.feeRecipient, 1001)
		s.True(dErrors.HasCode(err, dErrors.CodeFeeTooHigh))
	})
}

func (s *MarketplaceServiceSuite) TestList() {
	s.Run("escrows the unit and records the listing", func() {
		asset, sellerAcct := s.newAsset(s.seller)

		l, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)
		s.Equal(uint64(1), l.ListingID)
		s.True(l.Active)
		s.Equal(uint64(0), s.tokenBalance(sellerAcct))
		s.Equal(uint64(1), s.tokenBalance(l.EscrowAccount))
	})

	s.Run("zero price rejected", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("listing an asset twice rejected", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		_, err = s.service.List(s.as(s.seller), asset, sellerAcct, 2_000)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("cannot escrow from someone else's account", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.buyer), asset, sellerAcct, 1_000)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("listing IDs advance", func() {
		a1, acct1 := s.newAsset(s.seller)
		a2, acct2 := s.newAsset(s.seller)

		l1, err := s.service.List(s.as(s.seller), a1, acct1, 100)
		s.Require().NoError(err)
		l2, err := s.service.List(s.as(s.seller), a2, acct2, 200)
		s.Require().NoError(err)
		s.Equal(l1.ListingID+1, l2.ListingID)
	})
}

func (s *MarketplaceServiceSuite) TestBuy() {
	s.Run("settles price, fee, and asset", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		s.ledger.Deposit(s.buyer, 5_000)
		buyerAcct := s.newAccount(asset, s.buyer)

		l, err := s.service.Buy(s.as(s.buyer), asset, buyerAcct)
		s.Require().NoError(err)
		s.False(l.Active)

		s.Equal(uint64(975), s.balance(s.seller), "seller receives price minus fee")
		s.Equal(uint64(25), s.balance(s.feeRecipient), "fee recipient receives 2.5%")
		s.Equal(uint64(4_000), s.balance(s.buyer))
		s.Equal(uint64(1), s.tokenBalance(buyerAcct))
		s.Equal(uint64(0), s.tokenBalance(l.EscrowAccount))
	})

	s.Run("second buy fails on retired listing", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		s.ledger.Deposit(s.buyer, 5_000)
		buyerAcct := s.newAccount(asset, s.buyer)
		_, err = s.service.Buy(s.as(s.buyer), asset, buyerAcct)
		s.Require().NoError(err)

		other := id.NewIdentity()
		s.ledger.Deposit(other, 5_000)
		otherAcct := s.newAccount(asset, other)
		_, err = s.service.Buy(s.as(other), asset, otherAcct)
		s.True(dErrors.HasCode(err, dErrors.CodeNotActive))
	})

	s.Run("seller cannot buy own listing", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		s.ledger.Deposit(s.seller, 5_000)
		_, err = s.service.Buy(s.as(s.seller), asset, sellerAcct)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("insufficient funds leaves listing and escrow intact", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		l, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		poor := id.NewIdentity()
		s.ledger.Deposit(poor, 100)
		poorAcct := s.newAccount(asset, poor)
		_, err = s.service.Buy(s.as(poor), asset, poorAcct)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))

		s.Equal(uint64(100), s.balance(poor), "no partial legs applied")
		s.Equal(uint64(1), s.tokenBalance(l.EscrowAccount))

		found, err := s.listings.FindByAsset(context.Background(), asset)
		s.Require().NoError(err)
		s.True(found.Active)
	})

	s.Run("unknown asset fails with not found", func() {
		_, err := s.service.Buy(s.as(s.buyer), id.NewAssetID(), id.NewIdentity())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("zero fee pays the full price to the seller", func() {
		svc := New(configstore.NewMemory[models.Config](), s.listings, s.ledger,
			custody.NewDeriver("marketplace", []byte("zero-fee-seed")))
		_, err := svc.Initialize(context.Background(), s.admin, s.feeRecipient, 0)
		s.Require().NoError(err)

		seller := id.NewIdentity()
		asset, sellerAcct := s.newAsset(seller)
		_, err = svc.List(s.as(seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		buyer := id.NewIdentity()
		s.ledger.Deposit(buyer, 1_000)
		buyerAcct := s.newAccount(asset, buyer)
		_, err = svc.Buy(s.as(buyer), asset, buyerAcct)
		s.Require().NoError(err)

		s.Equal(uint64(1_000), s.balance(seller))
	})
}

func (s *MarketplaceServiceSuite) TestCancel() {
	s.Run("returns the unit and retires the listing", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		s.Require().NoError(s.service.Cancel(s.as(s.seller), asset, sellerAcct))
		s.Equal(uint64(1), s.tokenBalance(sellerAcct))

		found, err := s.listings.FindByAsset(context.Background(), asset)
		s.Require().NoError(err)
		s.False(found.Active)
	})

	s.Run("only the seller may cancel", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		err = s.service.Cancel(s.as(s.buyer), asset, sellerAcct)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("buy after cancel fails", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)
		s.Require().NoError(s.service.Cancel(s.as(s.seller), asset, sellerAcct))

		s.ledger.Deposit(s.buyer, 5_000)
		buyerAcct := s.newAccount(asset, s.buyer)
		_, err = s.service.Buy(s.as(s.buyer), asset, buyerAcct)
		s.True(dErrors.HasCode(err, dErrors.CodeNotActive))
	})
}

func (s *MarketplaceServiceSuite) TestUpdatePrice() {
	s.Run("seller changes the asking price", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		s.Require().NoError(s.service.UpdatePrice(s.as(s.seller), asset, 2_500))

		found, err := s.listings.FindByAsset(context.Background(), asset)
		s.Require().NoError(err)
		s.Equal(uint64(2_500), found.Price)
	})

	s.Run("zero price rejected", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		err = s.service.UpdatePrice(s.as(s.seller), asset, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("non-seller rejected", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		err = s.service.UpdatePrice(s.as(s.buyer), asset, 2_500)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *MarketplaceServiceSuite) TestAdmin() {
	s.Run("fee above cap rejected", func() {
		err := s.service.SetFee(s.as(s.admin), 1_001)
		s.True(dErrors.HasCode(err, dErrors.CodeFeeTooHigh))
	})

	s.Run("fee change applies to later settlements", func() {
		s.Require().NoError(s.service.SetFee(s.as(s.admin), 500))

		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		s.ledger.Deposit(s.buyer, 1_000)
		buyerAcct := s.newAccount(asset, s.buyer)
		_, err = s.service.Buy(s.as(s.buyer), asset, buyerAcct)
		s.Require().NoError(err)

		s.Equal(uint64(950), s.balance(s.seller))
		s.Equal(uint64(50), s.balance(s.feeRecipient))
	})

	s.Run("non-admin cannot change the fee", func() {
		err := s.service.SetFee(s.as(s.seller), 100)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("fee recipient change redirects fees", func() {
		recipient := id.NewIdentity()
		s.Require().NoError(s.service.SetFeeRecipient(s.as(s.admin), recipient))

		cfg, err := s.service.Config(context.Background())
		s.Require().NoError(err)
		s.Equal(recipient, cfg.FeeRecipient)
	})
}

func (s *MarketplaceServiceSuite) TestPause() {
	s.Run("pause blocks listing and settlement", func() {
		s.Require().NoError(s.service.Pause(s.as(s.admin)))

		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.True(dErrors.HasCode(err, dErrors.CodeServicePaused))

		s.Require().NoError(s.service.Unpause(s.as(s.admin)))
		_, err = s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.NoError(err)
	})

	s.Run("cancel stays available while paused", func() {
		asset, sellerAcct := s.newAsset(s.seller)
		_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
		s.Require().NoError(err)

		s.Require().NoError(s.service.Pause(s.as(s.admin)))
		s.NoError(s.service.Cancel(s.as(s.seller), asset, sellerAcct))
		s.Require().NoError(s.service.Unpause(s.as(s.admin)))
	})

	s.Run("non-admin cannot pause", func() {
		err := s.service.Pause(s.as(s.seller))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *MarketplaceServiceSuite) TestEvents() {
	asset, sellerAcct := s.newAsset(s.seller)
	_, err := s.service.List(s.as(s.seller), asset, sellerAcct, 1_000)
	s.Require().NoError(err)

	s.ledger.Deposit(s.buyer, 1_000)
	buyerAcct := s.newAccount(asset, s.buyer)
	_, err = s.service.Buy(s.as(s.buyer), asset, buyerAcct)
	s.Require().NoError(err)

	recent, err := s.events.ListRecent(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)

	kinds := []events.Kind{recent[0].Kind, recent[1].Kind}
	s.Contains(kinds, events.KindListed)
	s.Contains(kinds, events.KindSold)
}
