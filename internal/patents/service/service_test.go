package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"custodia/internal/configstore"
	"custodia/internal/custody"
	"custodia/internal/ledger"
	"custodia/internal/patents/models"
	"custodia/internal/patents/store/patent"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/events"
	"custodia/pkg/requestcontext"
)

const mintingPrice = 1_000_000

type PatentServiceSuite struct {
	suite.Suite
	ledger  *ledger.Memory
	issuer  *ledger.MemoryIssuer
	store   *patent.InMemory
	events  *events.MemoryStore
	service *Service

	admin id.Identity
	payer id.Identity
}

func TestPatentServiceSuite(t *testing.T) {
	suite.Run(t, new(PatentServiceSuite))
}

func (s *PatentServiceSuite) SetupTest() {
	s.ledger = ledger.NewMemory()
	s.issuer = ledger.NewMemoryIssuer()
	s.store = patent.NewInMemory()
	s.events = events.NewMemoryStore()

	s.admin = id.NewIdentity()
	s.payer = id.NewIdentity()
	s.ledger.Deposit(s.payer, 10*mintingPrice)

	publisher := events.NewPublisher(s.events)
	s.service = New(
		configstore.NewMemory[models.Config](),
		s.store,
		s.ledger,
		s.issuer,
		custody.NewDeriver("patents", []byte("test-seed")),
		WithEmitter(publisher.Emitter("patents")),
	)

	_, err := s.service.Initialize(context.Background(), s.admin, mintingPrice, 500)
	s.Require().NoError(err)
}

func (s *PatentServiceSuite) as(caller id.Identity) context.Context {
	return requestcontext.WithCaller(context.Background(), caller)
}

func (s *PatentServiceSuite) mintReq(number string) MintRequest {
	return MintRequest{
		Asset:        id.NewAssetID(),
		PatentNumber: number,
		Name:         "Example Patent",
		Symbol:       "PAT",
		URI:          "https://example.com/patents/1.json",
	}
}

func (s *PatentServiceSuite) balance(holder id.Identity) uint64 {
	var out uint64
	err := s.ledger.InTx(context.Background(), func(tx ledger.Tx) error {
		b, err := tx.Balance(holder)
		out = b
		return err
	})
	s.Require().NoError(err)
	return out
}

func (s *PatentServiceSuite) TestMint() {
	s.Run("pays the admin and issues the item", func() {
		p, err := s.service.Mint(s.as(s.payer), s.mintReq("US-1,234,567"))
		s.Require().NoError(err)
		s.Equal(uint64(1), p.TokenID)
		s.Equal(s.payer, p.Owner)
		s.Equal(uint64(mintingPrice), s.balance(s.admin))

		item, ok := s.issuer.Item(p.Asset)
		s.Require().True(ok)
		s.Equal("Example Patent", item.Metadata.Name)
		s.Equal(uint16(500), item.RoyaltyBasisPoints)
	})

	s.Run("token IDs advance across mints", func() {
		p1, err := s.service.Mint(s.as(s.payer), s.mintReq("US-2,000,001"))
		s.Require().NoError(err)
		p2, err := s.service.Mint(s.as(s.payer), s.mintReq("US-2,000,002"))
		s.Require().NoError(err)
		s.Equal(p1.TokenID+1, p2.TokenID)
	})

	s.Run("equivalent spellings claim the same slot", func() {
		_, err := s.service.Mint(s.as(s.payer), s.mintReq("EP-99 88 77"))
		s.Require().NoError(err)

		_, err = s.service.Mint(s.as(s.payer), s.mintReq("ep998877"))
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("failed payment leaves no registry entry", func() {
		poor := id.NewIdentity()
		req := s.mintReq("US-3,000,000")
		_, err := s.service.Mint(s.as(poor), req)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))

		_, err = s.service.Lookup(context.Background(), req.PatentNumber)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("failed issuance refunds the payment leg", func() {
		first := s.mintReq("US-5,000,001")
		_, err := s.service.Mint(s.as(s.payer), first)
		s.Require().NoError(err)

		payerBefore := s.balance(s.payer)
		adminBefore := s.balance(s.admin)

		dup := s.mintReq("US-5,000,002")
		dup.Asset = first.Asset
		_, err = s.service.Mint(s.as(s.payer), dup)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))

		s.Equal(payerBefore, s.balance(s.payer))
		s.Equal(adminBefore, s.balance(s.admin))
		_, err = s.service.Lookup(context.Background(), dup.PatentNumber)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("free mint skips the payment leg", func() {
		svc := New(
			configstore.NewMemory[models.Config](),
			s.store, s.ledger, s.issuer,
			custody.NewDeriver("patents", []byte("free-seed")),
		)
		freeAdmin := id.NewIdentity()
		_, err := svc.Initialize(context.Background(), freeAdmin, 0, 0)
		s.Require().NoError(err)

		broke := id.NewIdentity()
		_, err = svc.Mint(s.as(broke), s.mintReq("US-4,000,000"))
		s.NoError(err)
		s.Equal(uint64(0), s.balance(freeAdmin))
	})
}

func (s *PatentServiceSuite) TestMetadataCaps() {
	cases := []struct {
		name   string
		mutate func(*MintRequest)
	}{
		{"empty patent number", func(r *MintRequest) { r.PatentNumber = "" }},
		{"patent number over 50", func(r *MintRequest) { r.PatentNumber = strings.Repeat("9", 51) }},
		{"patent number with no identifying characters", func(r *MintRequest) { r.PatentNumber = " -- " }},
		{"empty name", func(r *MintRequest) { r.Name = "" }},
		{"name over 32", func(r *MintRequest) { r.Name = strings.Repeat("n", 33) }},
		{"empty symbol", func(r *MintRequest) { r.Symbol = "" }},
		{"symbol over 10", func(r *MintRequest) { r.Symbol = strings.Repeat("s", 11) }},
		{"empty uri", func(r *MintRequest) { r.URI = "" }},
		{"uri over 200", func(r *MintRequest) { r.URI = "https://" + strings.Repeat("u", 200) }},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := s.mintReq("US-5,000,000")
			tc.mutate(&req)
			_, err := s.service.Mint(s.as(s.payer), req)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "expected invalid_input for %s", tc.name)
		})
	}

	s.Run("no payment moved for rejected metadata", func() {
		s.Equal(uint64(0), s.balance(s.admin))
	})
}

func (s *PatentServiceSuite) TestMintAdmin() {
	s.Run("issues to the recipient without payment", func() {
		recipient := id.NewIdentity()
		p, err := s.service.MintAdmin(s.as(s.admin), s.mintReq("US-6,000,000"), recipient)
		s.Require().NoError(err)
		s.Equal(recipient, p.Owner)
		s.Equal(uint64(0), s.balance(s.admin), "no payment leg")
	})

	s.Run("non-admin rejected", func() {
		_, err := s.service.MintAdmin(s.as(s.payer), s.mintReq("US-6,000,001"), id.NewIdentity())
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *PatentServiceSuite) TestUpdateMintingPrice() {
	s.Run("admin changes the price", func() {
		s.Require().NoError(s.service.UpdateMintingPrice(s.as(s.admin), 42))
		cfg, err := s.service.Config(context.Background())
		s.Require().NoError(err)
		s.Equal(uint64(42), cfg.MintingPrice)
	})

	s.Run("non-admin rejected", func() {
		err := s.service.UpdateMintingPrice(s.as(s.payer), 42)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *PatentServiceSuite) TestWithdraw() {
	floor := s.ledger.MinimumBalance(configRecordLen)

	s.Run("breaching the reserved minimum rejected", func() {
		s.ledger.Deposit(s.service.Treasury(), floor+1_000)

		err := s.service.Withdraw(s.as(s.admin), 1_001)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
	})

	s.Run("exact excess leaves the floor in place", func() {
		s.Require().NoError(s.service.Withdraw(s.as(s.admin), 1_000))
		s.Equal(floor, s.balance(s.service.Treasury()))
	})

	s.Run("zero amount rejected", func() {
		err := s.service.Withdraw(s.as(s.admin), 0)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("non-admin rejected", func() {
		err := s.service.Withdraw(s.as(s.payer), 1)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *PatentServiceSuite) TestEvents() {
	p, err := s.service.Mint(s.as(s.payer), s.mintReq("US-7,000,000"))
	s.Require().NoError(err)

	recent, err := s.events.ListRecent(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal(events.KindItemIssued, recent[0].Kind)
	s.Equal(p.TokenID, recent[0].Payload["token_id"])
}
