package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"custodia/internal/configstore"
	"custodia/internal/custody"
	"custodia/internal/ledger"
	"custodia/internal/marketplace/models"
	"custodia/internal/marketplace/service"
	"custodia/internal/marketplace/store/listing"
	id "custodia/pkg/domain"
	"custodia/pkg/requestcontext"
)

// HandlerSuite exercises HTTP concerns over a real service with in-memory
// stores and ledger.
type HandlerSuite struct {
	suite.Suite
	router http.Handler
	ledger *ledger.Memory

	admin    id.Identity
	seller   id.Identity
	mintAuth id.Identity
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ledger = ledger.NewMemory()
	s.admin = id.NewIdentity()
	s.seller = id.NewIdentity()
	s.mintAuth = id.NewIdentity()

	svc := service.New(
		configstore.NewMemory[models.Config](),
		listing.NewInMemory(),
		s.ledger,
		custody.NewDeriver("marketplace", []byte("handler-test-seed")),
	)
	_, err := svc.Initialize(context.Background(), s.admin, id.NewIdentity(), 250)
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(svc, logger).Register(r)
	s.router = r
}

func (s *HandlerSuite) do(caller id.Identity, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if !caller.IsZero() {
		req = req.WithContext(requestcontext.WithCaller(req.Context(), caller))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// newListedAsset mints an asset to the seller and lists it at the price.
func (s *HandlerSuite) newListedAsset(price uint64) id.AssetID {
	asset := id.NewAssetID()
	account := id.NewIdentity()
	s.ledger.CreateMint(asset, s.mintAuth)
	err := s.ledger.InTx(context.Background(), func(tx ledger.Tx) error {
		if err := tx.CreateAccount(account, asset, s.seller); err != nil {
			return err
		}
		return tx.MintTo(asset, account, ledger.Signer(s.mintAuth), 1)
	})
	s.Require().NoError(err)

	rec := s.do(s.seller, http.MethodPost, "/marketplace/listings", ListRequest{
		Asset:         asset,
		SellerAccount: account,
		Price:         price,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	return asset
}

func (s *HandlerSuite) TestList() {
	s.Run("creates a listing", func() {
		asset := s.newListedAsset(1_000)

		rec := s.do(id.Identity{}, http.MethodGet, "/marketplace/listings", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		var listings []ListingResponse
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&listings))
		s.Require().Len(listings, 1)
		s.Equal(asset, listings[0].Asset)
		s.Equal(uint64(1_000), listings[0].Price)
	})

	s.Run("rejects malformed body", func() {
		req := httptest.NewRequest(http.MethodPost, "/marketplace/listings",
			bytes.NewReader([]byte("not valid json")))
		req = req.WithContext(requestcontext.WithCaller(req.Context(), s.seller))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("rejects anonymous caller", func() {
		rec := s.do(id.Identity{}, http.MethodPost, "/marketplace/listings", ListRequest{
			Asset:         id.NewAssetID(),
			SellerAccount: id.NewIdentity(),
			Price:         100,
		})
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *HandlerSuite) TestBuy() {
	s.Run("settles and returns the retired listing", func() {
		asset := s.newListedAsset(1_000)

		buyer := id.NewIdentity()
		s.ledger.Deposit(buyer, 2_000)
		buyerAcct := id.NewIdentity()
		err := s.ledger.InTx(context.Background(), func(tx ledger.Tx) error {
			return tx.CreateAccount(buyerAcct, asset, buyer)
		})
		s.Require().NoError(err)

		rec := s.do(buyer, http.MethodPost,
			fmt.Sprintf("/marketplace/listings/%s/buy", asset), BuyRequest{BuyerAccount: buyerAcct})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

		var l ListingResponse
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&l))
		s.False(l.Active)
	})

	s.Run("invalid asset parameter", func() {
		rec := s.do(s.seller, http.MethodPost, "/marketplace/listings/nonsense/buy",
			BuyRequest{BuyerAccount: id.NewIdentity()})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown asset maps to 404", func() {
		rec := s.do(s.seller, http.MethodPost,
			fmt.Sprintf("/marketplace/listings/%s/buy", id.NewAssetID()),
			BuyRequest{BuyerAccount: id.NewIdentity()})
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestAdmin() {
	s.Run("fee above cap maps to bad request", func() {
		rec := s.do(s.admin, http.MethodPost, "/marketplace/fee", SetFeeRequest{FeeBasisPoints: 1_001})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("non-admin forbidden", func() {
		rec := s.do(s.seller, http.MethodPost, "/marketplace/fee", SetFeeRequest{FeeBasisPoints: 100})
		s.Equal(http.StatusForbidden, rec.Code)
	})

	s.Run("pause maps settlement to 503", func() {
		rec := s.do(s.admin, http.MethodPost, "/marketplace/pause", nil)
		s.Require().Equal(http.StatusNoContent, rec.Code)

		rec = s.do(s.seller, http.MethodPost, "/marketplace/listings", ListRequest{
			Asset:         id.NewAssetID(),
			SellerAccount: id.NewIdentity(),
			Price:         100,
		})
		s.Equal(http.StatusServiceUnavailable, rec.Code)

		rec = s.do(s.admin, http.MethodPost, "/marketplace/unpause", nil)
		s.Equal(http.StatusNoContent, rec.Code)
	})
}
