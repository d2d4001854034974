package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	yogapay "github.com/lotuslabs/yogapay"
	"github.com/lotuslabs/yogapay/auth"
	"github.com/lotuslabs/yogapay/balance"
	"github.com/lotuslabs/yogapay/encoding"
	"github.com/lotuslabs/yogapay/shop"
	"github.com/lotuslabs/yogapay/store"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testRequirement = yogapay.PaymentRequirement{
	Scheme:            "exact",
	Network:           "base",
	MaxAmountRequired: "5000000",
	Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
	Resource:          "https://shop.example/classes/c1",
}

// fakeShop scripts the upstream shop for handler tests.
type fakeShop struct {
	classes  []shop.Class
	products []shop.Product
	preview  string

	browseErr error

	// classFull is invoked for every ClassFull call.
	classFull func(classID, xPayment string) (*shop.ClassAccess, error)

	browseCalls int
}

func (f *fakeShop) BrowseClasses(ctx context.Context) ([]shop.Class, error) {
	f.browseCalls++
	return f.classes, f.browseErr
}

func (f *fakeShop) BrowseProducts(ctx context.Context) ([]shop.Product, error) {
	f.browseCalls++
	return f.products, f.browseErr
}

func (f *fakeShop) ClassPreview(ctx context.Context, classID string) (string, error) {
	return f.preview, nil
}

func (f *fakeShop) ClassFull(ctx context.Context, classID, xPayment string) (*shop.ClassAccess, error) {
	return f.classFull(classID, xPayment)
}

type testEnv struct {
	server *Server
	shop   *fakeShop
	store  *store.Store
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sessions, err := auth.NewManager()
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}

	token, _, err := sessions.Issue("alice")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	fs := &fakeShop{}
	srv := New(Config{
		Shop:     fs,
		Store:    st,
		Sessions: sessions,
	})

	return &testEnv{server: srv, shop: fs, store: st, token: token}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestSessionIssuesToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewBufferString(`{"account":"bob"}`))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["token"] == "" || body["account"] != "bob" {
		t.Errorf("unexpected session response: %v", body)
	}
}

func TestSessionGeneratesAccount(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if account, _ := body["account"].(string); account == "" {
		t.Error("expected generated account id")
	}
}

func TestSessionRejectsBadAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.server.apiKey = "platform-secret"

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	req.Header.Set("X-Api-Key", "wrong")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/classes", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/classes", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestClassesCaching(t *testing.T) {
	env := newTestEnv(t)
	env.shop.classes = []shop.Class{{ID: "c1", Title: "Morning Flow", Price: "$5.00"}}

	rec := env.request(t, http.MethodGet, "/classes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["fromCache"] != false {
		t.Error("first fetch should not come from cache")
	}

	rec = env.request(t, http.MethodGet, "/classes", nil)
	body = decodeBody(t, rec)
	if body["fromCache"] != true {
		t.Error("second fetch should come from cache")
	}
	if env.shop.browseCalls != 1 {
		t.Errorf("expected 1 shop call, got %d", env.shop.browseCalls)
	}

	rec = env.request(t, http.MethodGet, "/classes?forceRefresh=true", nil)
	body = decodeBody(t, rec)
	if body["fromCache"] != true && env.shop.browseCalls != 2 {
		t.Error("forceRefresh should bypass the cache")
	}
	if body["fromCache"] != false {
		t.Error("forced fetch should not report fromCache")
	}
}

func TestClassesShopFailure(t *testing.T) {
	env := newTestEnv(t)
	env.shop.browseErr = errors.New("upstream down")

	rec := env.request(t, http.MethodGet, "/classes", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)
	env.shop.preview = "https://shop.example/preview/c1"

	rec := env.request(t, http.MethodGet, "/classes/c1/preview", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["previewUrl"] != "https://shop.example/preview/c1" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestWalletLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/wallet", nil)
	body := decodeBody(t, rec)
	if body["hasPrivateKey"] != false {
		t.Error("wallet should start unconfigured")
	}

	rec = env.request(t, http.MethodPut, "/wallet", map[string]string{"privateKey": testKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	if body["privateKey"] != "0x4c08...2318" {
		t.Errorf("expected masked key, got %v", body["privateKey"])
	}
	if bytes.Contains(rec.Body.Bytes(), []byte(testKey[6:20])) {
		t.Error("response leaks key material")
	}

	rec = env.request(t, http.MethodGet, "/wallet", nil)
	body = decodeBody(t, rec)
	if body["hasPrivateKey"] != true || body["privateKey"] != "0x4c08...2318" {
		t.Errorf("unexpected wallet status: %v", body)
	}
}

func TestWalletRejectsBadKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPut, "/wallet", map[string]string{"privateKey": "0x1234"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWalletRejectsBothInputs(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPut, "/wallet", map[string]string{
		"privateKey": testKey,
		"mnemonic":   "legal winner thank year wave sausage worth useful legal winner thank yellow",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWalletFromMnemonic(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPut, "/wallet", map[string]string{
		"mnemonic": "legal winner thank year wave sausage worth useful legal winner thank yellow",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if addr, _ := body["address"].(string); len(addr) != 42 {
		t.Errorf("expected derived address, got %v", body["address"])
	}
}

// fakeChain scripts the balance backend for wallet status tests.
type fakeChain struct {
	wei  *big.Int
	usdc *big.Int
	err  error
}

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.wei, f.err
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return common.LeftPadBytes(f.usdc.Bytes(), 32), nil
}

func TestWalletUnconfiguredNullFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/wallet", nil)
	body := decodeBody(t, rec)

	if body["hasPrivateKey"] != false {
		t.Error("wallet should be unconfigured")
	}
	for _, field := range []string{"privateKey", "address", "balance", "usdcBalance"} {
		if body[field] != nil {
			t.Errorf("expected null %s, got %v", field, body[field])
		}
	}
}

func TestWalletBalances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveWallet(ctx, "alice", testKey); err != nil {
		t.Fatalf("failed to save wallet: %v", err)
	}

	chain := &fakeChain{
		wei:  new(big.Int).Mul(big.NewInt(2), big.NewInt(1_000_000_000_000_000_000)),
		usdc: big.NewInt(12_500_000),
	}
	balances, err := balance.New(chain, "base")
	if err != nil {
		t.Fatalf("failed to create balance client: %v", err)
	}
	env.server.balances = balances

	rec := env.request(t, http.MethodGet, "/wallet", nil)
	body := decodeBody(t, rec)

	if body["balance"] != "2" {
		t.Errorf("expected ETH balance 2, got %v", body["balance"])
	}
	if body["usdcBalance"] != "12.5" {
		t.Errorf("expected USDC balance 12.5, got %v", body["usdcBalance"])
	}
}

func TestWalletBalancesDegradeOnRPCFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveWallet(ctx, "alice", testKey); err != nil {
		t.Fatalf("failed to save wallet: %v", err)
	}

	balances, err := balance.New(&fakeChain{err: errors.New("rpc down")}, "base")
	if err != nil {
		t.Fatalf("failed to create balance client: %v", err)
	}
	env.server.balances = balances

	rec := env.request(t, http.MethodGet, "/wallet", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rpc failure must not fail the wallet read, got %d", rec.Code)
	}
	body := decodeBody(t, rec)

	if body["hasPrivateKey"] != true || body["privateKey"] != "0x4c08...2318" {
		t.Errorf("wallet status must survive rpc failure: %v", body)
	}
	if body["balance"] != nil || body["usdcBalance"] != nil {
		t.Errorf("expected null balances on rpc failure, got %v / %v", body["balance"], body["usdcBalance"])
	}
}

func TestContentPurchased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.store.RecordPurchase(ctx, store.Purchase{
		Owner: "alice", ClassID: "c1", ClassTitle: "Morning Flow",
		Price: "$5.00", ContentURL: "https://shop.example/full/c1",
		TxHash: "0xabc", XPayment: "eA==",
	}); err != nil {
		t.Fatalf("failed to seed purchase: %v", err)
	}

	rec := env.request(t, http.MethodGet, "/classes/c1/content", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["purchased"] != true || body["contentUrl"] != "https://shop.example/full/c1" {
		t.Errorf("unexpected content response: %v", body)
	}
	if body["classTitle"] != "Morning Flow" {
		t.Errorf("expected class title, got %v", body["classTitle"])
	}
	if at, _ := body["purchasedAt"].(string); at == "" {
		t.Error("expected purchasedAt timestamp")
	}
}

func TestContentNotPurchased(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/classes/c1/content", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["purchased"] != false {
		t.Errorf("unexpected response: %v", body)
	}
}

func TestUnlockRequiresWallet(t *testing.T) {
	env := newTestEnv(t)
	env.shop.classFull = func(classID, xPayment string) (*shop.ClassAccess, error) {
		t.Fatal("shop must not be called without a wallet")
		return nil, nil
	}

	rec := env.request(t, http.MethodPost, "/classes/c1/unlock", map[string]string{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnlockFullFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveWallet(ctx, "alice", testKey); err != nil {
		t.Fatalf("failed to save wallet: %v", err)
	}

	var submittedEnvelope string
	env.shop.classFull = func(classID, xPayment string) (*shop.ClassAccess, error) {
		if classID != "c1" {
			t.Errorf("unexpected class id %q", classID)
		}
		if xPayment == "" {
			req := testRequirement
			return &shop.ClassAccess{Kind: shop.AccessRequirements, Requirements: &req}, nil
		}
		submittedEnvelope = xPayment
		return &shop.ClassAccess{
			Kind:    shop.AccessContent,
			Content: &shop.ClassContent{URL: "https://shop.example/full/c1", TxHash: "0xabc"},
		}, nil
	}

	rec := env.request(t, http.MethodPost, "/classes/c1/unlock", map[string]string{
		"classTitle": "Morning Flow",
		"price":      "$5.00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["contentUrl"] != "https://shop.example/full/c1" {
		t.Errorf("unexpected unlock response: %v", body)
	}

	// The submitted envelope must be a decodable payment for the requirement.
	payload, err := encoding.DecodePayment(submittedEnvelope)
	if err != nil {
		t.Fatalf("submitted envelope is not decodable: %v", err)
	}
	if payload.Network != "base" || payload.Payload.Authorization.Value != "5000000" {
		t.Errorf("unexpected payment payload: %+v", payload)
	}

	purchase, err := env.store.Purchase(ctx, "alice", "c1")
	if err != nil {
		t.Fatalf("purchase was not recorded: %v", err)
	}
	if purchase.ClassTitle != "Morning Flow" || purchase.XPayment != submittedEnvelope {
		t.Errorf("unexpected purchase row: %+v", purchase)
	}
}

func TestUnlockAlreadyPurchased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.store.RecordPurchase(ctx, store.Purchase{
		Owner: "alice", ClassID: "c1", ClassTitle: "Morning Flow",
		Price: "$5.00", ContentURL: "https://shop.example/full/c1",
		TxHash: "0xabc", XPayment: "eA==",
	}); err != nil {
		t.Fatalf("failed to seed purchase: %v", err)
	}

	env.shop.classFull = func(classID, xPayment string) (*shop.ClassAccess, error) {
		t.Fatal("shop must not be called for an owned class")
		return nil, nil
	}

	rec := env.request(t, http.MethodPost, "/classes/c1/unlock", map[string]string{})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["alreadyPurchased"] != true || body["contentUrl"] != "https://shop.example/full/c1" {
		t.Errorf("unexpected response: %v", body)
	}
}

func TestUnlockPaymentRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveWallet(ctx, "alice", testKey); err != nil {
		t.Fatalf("failed to save wallet: %v", err)
	}

	env.shop.classFull = func(classID, xPayment string) (*shop.ClassAccess, error) {
		if xPayment == "" {
			req := testRequirement
			return &shop.ClassAccess{Kind: shop.AccessRequirements, Requirements: &req}, nil
		}
		return nil, &shop.PaymentRejectedError{Message: "invalid signature"}
	}

	rec := env.request(t, http.MethodPost, "/classes/c1/unlock", map[string]string{})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := env.store.Purchase(ctx, "alice", "c1"); !errors.Is(err, yogapay.ErrNotPurchased) {
		t.Error("rejected payment must not record a purchase")
	}
}

func TestUnlockUnusableRequirements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveWallet(ctx, "alice", testKey); err != nil {
		t.Fatalf("failed to save wallet: %v", err)
	}

	env.shop.classFull = func(classID, xPayment string) (*shop.ClassAccess, error) {
		req := testRequirement
		req.Network = "unknown-chain"
		return &shop.ClassAccess{Kind: shop.AccessRequirements, Requirements: &req}, nil
	}

	rec := env.request(t, http.MethodPost, "/classes/c1/unlock", map[string]string{})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnlockSpendingCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveWallet(ctx, "alice", testKey); err != nil {
		t.Fatalf("failed to save wallet: %v", err)
	}

	// Cap of 1 USDC against a 5 USDC requirement.
	env.server.maxPayment = big.NewInt(1_000_000)

	paymentSubmitted := false
	env.shop.classFull = func(classID, xPayment string) (*shop.ClassAccess, error) {
		if xPayment != "" {
			paymentSubmitted = true
		}
		req := testRequirement
		return &shop.ClassAccess{Kind: shop.AccessRequirements, Requirements: &req}, nil
	}

	rec := env.request(t, http.MethodPost, "/classes/c1/unlock", map[string]string{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if paymentSubmitted {
		t.Error("no payment may be signed over the spending cap")
	}
	if _, err := env.store.Purchase(ctx, "alice", "c1"); !errors.Is(err, yogapay.ErrNotPurchased) {
		t.Error("capped unlock must not record a purchase")
	}
}

func TestRequirementsAlreadyPurchased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.store.RecordPurchase(ctx, store.Purchase{
		Owner: "alice", ClassID: "c1", ClassTitle: "Morning Flow",
		Price: "$5.00", ContentURL: "https://shop.example/full/c1", XPayment: "eA==",
	}); err != nil {
		t.Fatalf("failed to seed purchase: %v", err)
	}

	rec := env.request(t, http.MethodGet, "/classes/c1/requirements", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["alreadyPurchased"] != true {
		t.Errorf("unexpected response: %v", body)
	}
}

func TestRequirementsFromShop(t *testing.T) {
	env := newTestEnv(t)

	env.shop.classFull = func(classID, xPayment string) (*shop.ClassAccess, error) {
		if xPayment != "" {
			t.Error("requirements lookup must not submit payment")
		}
		req := testRequirement
		return &shop.ClassAccess{Kind: shop.AccessRequirements, Requirements: &req}, nil
	}

	rec := env.request(t, http.MethodGet, "/classes/c1/requirements", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	requirements, ok := body["requirements"].(map[string]interface{})
	if !ok || requirements["maxAmountRequired"] != "5000000" {
		t.Errorf("unexpected requirements: %v", body)
	}
	if body["amountUsdc"] != "5" {
		t.Errorf("expected display amount 5, got %v", body["amountUsdc"])
	}
}

func TestPurchasesEmptyList(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/purchases", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body struct {
		Purchases []store.Purchase `json:"purchases"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Purchases == nil {
		t.Error("purchases must be an empty array, not null")
	}
}
