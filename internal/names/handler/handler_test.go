package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dattas/internal/ledger"
	"dattas/internal/names/models"
	"dattas/internal/names/service"
	"dattas/internal/names/store"
	"dattas/internal/origin"
	id "dattas/pkg/domain"
	audit "dattas/pkg/platform/audit"
	auditmemory "dattas/pkg/platform/audit/store/memory"
	"dattas/pkg/testutil"
)

const adminToken = "secret-token"

type fixture struct {
	router http.Handler
	tokens *origin.Tokens
	ledger *ledger.InMemoryLedger
	alice  id.AccountID
	bob    id.AccountID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.NewInMemoryLedger()
	alice, bob := id.NewAccountID(), id.NewAccountID()
	require.NoError(t, l.Deposit(ctx, alice, 100))
	require.NoError(t, l.Deposit(ctx, bob, 3))

	svc, err := service.New(
		store.NewInMemoryStore(),
		l,
		origin.NewGate(l),
		audit.NewPublisher(auditmemory.NewInMemoryStore()),
		models.Params{MinLength: 3, MaxLength: 16, ReservationFee: 10},
		service.WithLogger(logger),
	)
	require.NoError(t, err)

	tokens := origin.NewTokens("test-key", "dattas", "dattas")
	r := chi.NewRouter()
	New(svc, logger, tokens, adminToken).Register(r)

	return &fixture{router: r, tokens: tokens, ledger: l, alice: alice, bob: bob}
}

func (f *fixture) signed(t *testing.T, req *http.Request, account id.AccountID) *http.Request {
	t.Helper()
	token, err := f.tokens.Issue(account, time.Hour)
	require.NoError(t, err)
	return testutil.WithBearer(req, token)
}

func asAdmin(req *http.Request) *http.Request {
	return testutil.WithAdminToken(req, adminToken)
}

func TestSetAndQueryName(t *testing.T) {
	f := newFixture(t)

	testutil.Given(t, "a funded signer", func(t *testing.T) {
		testutil.When(t, "they set a name", func(t *testing.T) {
			req := f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": "gav"}), f.alice)
			rr := testutil.DoRequest(f.router, req)
			testutil.AssertStatusOK(t, rr)
			testutil.AssertJSONContains(t, rr, "event", "name_set")
		})

		testutil.Then(t, "the name is readable by anyone", func(t *testing.T) {
			rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/names/"+f.alice.String()))
			testutil.AssertStatusOK(t, rr)
			resp := testutil.UnmarshalResponse[NameResponse](t, rr)
			require.NotNil(t, resp.Name)
			assert.Equal(t, "gav", *resp.Name)
			assert.Equal(t, "676176", resp.NameHex)
			assert.Equal(t, id.Balance(10), resp.Deposit)
		})

		testutil.Then(t, "the deposit is reserved", func(t *testing.T) {
			rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/accounts/"+f.alice.String()))
			testutil.AssertStatusOK(t, rr)
			resp := testutil.UnmarshalResponse[AccountResponse](t, rr)
			assert.Equal(t, id.Balance(90), resp.Free)
			assert.Equal(t, id.Balance(10), resp.Reserved)
		})

		testutil.When(t, "they rename with raw bytes", func(t *testing.T) {
			req := f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name_hex": "0xfffe00"}), f.alice)
			rr := testutil.DoRequest(f.router, req)
			testutil.AssertStatusOK(t, rr)
			testutil.AssertJSONContains(t, rr, "event", "name_changed")

			rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/names/"+f.alice.String()))
			resp := testutil.UnmarshalResponse[NameResponse](t, rr)
			assert.Nil(t, resp.Name, "non UTF-8 names are only returned as hex")
			assert.Equal(t, "fffe00", resp.NameHex)
		})
	})
}

func TestSetNameErrors(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
		code   string
	}{
		{
			name: "unsigned",
			req: func(t *testing.T) *http.Request {
				return testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": "gav"})
			},
			status: http.StatusUnauthorized, code: "unauthorized",
		},
		{
			name: "root is not a signer",
			req: func(t *testing.T) *http.Request {
				return asAdmin(testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": "gav"}))
			},
			status: http.StatusUnauthorized, code: "unauthorized",
		},
		{
			name: "too short",
			req: func(t *testing.T) *http.Request {
				return f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": "ab"}), f.alice)
			},
			status: http.StatusBadRequest, code: "too_short",
		},
		{
			name: "too long",
			req: func(t *testing.T) *http.Request {
				return f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": strings.Repeat("a", 17)}), f.alice)
			},
			status: http.StatusBadRequest, code: "too_long",
		},
		{
			name: "insufficient funds",
			req: func(t *testing.T) *http.Request {
				return f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": "bob"}), f.bob)
			},
			status: http.StatusUnprocessableEntity, code: "insufficient_funds",
		},
		{
			name: "both name fields",
			req: func(t *testing.T) *http.Request {
				return f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": "gav", "name_hex": "00"}), f.alice)
			},
			status: http.StatusBadRequest, code: "bad_request",
		},
		{
			name: "bad hex",
			req: func(t *testing.T) *http.Request {
				return f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name_hex": "zz"}), f.alice)
			},
			status: http.StatusBadRequest, code: "invalid_input",
		},
		{
			name: "unknown field",
			req: func(t *testing.T) *http.Request {
				return f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"nick": "gav"}), f.alice)
			},
			status: http.StatusBadRequest, code: "bad_request",
		},
		{
			name: "invalid bearer",
			req: func(t *testing.T) *http.Request {
				return testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": "gav"}), "junk")
			},
			status: http.StatusUnauthorized, code: "unauthorized",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := testutil.DoRequest(f.router, tc.req(t))
			testutil.AssertStatusAndError(t, rr, tc.status, tc.code)
		})
	}
}

func TestClearName(t *testing.T) {
	f := newFixture(t)

	rr := testutil.DoRequest(f.router, f.signed(t, testutil.NewRequest(t, http.MethodDelete, "/names/me"), f.alice))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "unnamed")

	rr = testutil.DoRequest(f.router, f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": "gav"}), f.alice))
	testutil.AssertStatusOK(t, rr)

	rr = testutil.DoRequest(f.router, f.signed(t, testutil.NewRequest(t, http.MethodDelete, "/names/me"), f.alice))
	testutil.AssertStatusOK(t, rr)
	resp := testutil.UnmarshalResponse[ClearResponse](t, rr)
	assert.Equal(t, id.Balance(10), resp.DepositRefunded)

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/names/"+f.alice.String()))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "unnamed")
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)
	target := f.alice.String()

	t.Run("force requires the privileged origin", func(t *testing.T) {
		req := f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/admin/names/"+target, map[string]string{"name": "x"}), f.alice)
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})

	t.Run("wrong admin token is rejected", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.WithAdminToken(testutil.NewRequest(t, http.MethodDelete, "/admin/names/"+target), "nope"))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("force with unknown target", func(t *testing.T) {
		req := asAdmin(testutil.NewJSONRequest(t, http.MethodPut, "/admin/names/"+id.NewAccountID().String(), map[string]string{"name": "x"}))
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "bad_target")
	})

	t.Run("force short name then kill", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, asAdmin(testutil.NewJSONRequest(t, http.MethodPut, "/admin/names/"+target, map[string]string{"name": "x"})))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "event", "name_forced")

		rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/accounts/"+target+"/deposit-check"))
		testutil.AssertStatusOK(t, rr)
		check := testutil.UnmarshalResponse[DepositCheckResponse](t, rr)
		assert.True(t, check.Named)
		assert.True(t, check.Consistent)

		rr = testutil.DoRequest(f.router, asAdmin(testutil.NewRequest(t, http.MethodDelete, "/admin/names/"+target)))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[KillResponse](t, rr)
		assert.Zero(t, resp.DepositSlashed)

		rr = testutil.DoRequest(f.router, asAdmin(testutil.NewRequest(t, http.MethodDelete, "/admin/names/"+target)))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "unnamed")
	})
}

func TestBatchQuery(t *testing.T) {
	f := newFixture(t)
	rr := testutil.DoRequest(f.router, f.signed(t, testutil.NewJSONRequest(t, http.MethodPut, "/names/me", map[string]string{"name": "gav"}), f.alice))
	testutil.AssertStatusOK(t, rr)

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet,
		"/names?account="+f.alice.String()+"&account="+f.bob.String()+"&account="+f.alice.String()))
	testutil.AssertStatusOK(t, rr)
	resp := testutil.UnmarshalResponse[NameListResponse](t, rr)
	require.Len(t, resp.Names, 1)
	assert.Equal(t, f.alice.String(), resp.Names[0].Account)

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet,
		"/names?account="+strings.ToUpper(f.alice.String())+","+f.bob.String()))
	testutil.AssertStatusOK(t, rr)
	assert.Len(t, testutil.UnmarshalResponse[NameListResponse](t, rr).Names, 1)

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/names"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/names?account=nope"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
}

func TestQueryRejectsMalformedAccount(t *testing.T) {
	f := newFixture(t)
	rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/names/not-a-uuid"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
}
