package postgres_test

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JonMunkholm/fieldsync/internal/config"
	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/store/postgres"
)

type StoreSuite struct {
	suite.Suite
	ctx       context.Context
	container testcontainers.Container
	dsn       string
	store     *postgres.Store
	service   *core.Service
}

func TestStoreSuite(t *testing.T) {
	if os.Getenv("FIELDSYNC_INTEGRATION") != "1" {
		t.Skip("set FIELDSYNC_INTEGRATION=1 to run postgres integration tests")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.ctx = context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.container = c

	host, err := c.Host(s.ctx)
	s.Require().NoError(err)
	port, err := c.MappedPort(s.ctx, "5432")
	s.Require().NoError(err)
	s.dsn = fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	// the port opens before postgres accepts connections
	s.Require().Eventually(func() bool {
		return postgres.MigrateUp(s.dsn, nil) == nil
	}, 30*time.Second, 500*time.Millisecond)

	s.store, err = postgres.Open(s.ctx, config.DatabaseConfig{
		URL:             s.dsn,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	})
	s.Require().NoError(err)
	s.service = core.NewService(s.store, nil)
}

func (s *StoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(s.ctx))
	}
}

func (s *StoreSuite) seedPartner(name string) int64 {
	var id int64
	err := s.store.InTx(s.ctx, func(tx core.Tx) error {
		var err error
		id, err = tx.Insert(s.ctx, "partners", core.Fields{"name": name, "customer_rank": int64(1)})
		return err
	})
	s.Require().NoError(err)
	return id
}

func (s *StoreSuite) TestCustomerRoundTrip() {
	body := []byte(`[{"mobile_uid":"it-c-1","name":"Acme","city":"Oslo","partner_latitude":59.91,"mobile_sync_date":"2024-03-01"}]`)

	first, err := s.service.Sync(s.ctx, "customer", body)
	s.Require().NoError(err)
	second, err := s.service.Sync(s.ctx, "customer", []byte(`[{"mobile_uid":"it-c-1","name":"Acme AS"}]`))
	s.Require().NoError(err)

	a, b := first.Data[0].(core.CustomerView), second.Data[0].(core.CustomerView)
	s.Equal(a.ID, b.ID)
	s.Equal("Acme AS", b.Name)
	s.Require().NotNil(b.City)
	s.Equal("Oslo", *b.City)
	s.Require().NotNil(b.PartnerLatitude)
	s.InDelta(59.91, *b.PartnerLatitude, 1e-9)

	list, err := s.service.List(s.ctx, "customer", url.Values{"city": {"Oslo"}})
	s.Require().NoError(err)
	s.Equal(1, list.Total)
}

func (s *StoreSuite) TestSaleDefaultsAndUnknownPartner() {
	partner := s.seedPartner("Buyer")

	res, err := s.service.Sync(s.ctx, "sale", []byte(fmt.Sprintf(
		`[{"mobile_uid":"it-s-1","partner_id":%d,"date_order":"2024-03-01 10:00:00"}]`, partner)))
	s.Require().NoError(err)

	sale := res.Data[0].(core.SaleView)
	s.Require().NotNil(sale.Name)
	s.Regexp(`^SO\d{5}$`, *sale.Name)
	s.Equal("draft", *sale.State)
	s.Equal(0.0, *sale.AmountTotal)

	_, err = s.service.Sync(s.ctx, "sale", []byte(`[{"mobile_uid":"it-s-2","partner_id":999999}]`))
	var br *core.BadRequestError
	s.Require().ErrorAs(err, &br)
	s.Equal("Invalid partner_id", br.Message)
}

func (s *StoreSuite) TestConcurrentVisitSubmissions() {
	partner := s.seedPartner("Visited")
	body := []byte(fmt.Sprintf(
		`[{"mobile_uid":"0b7a4c1e-2f3d-4e5f-9a6b-7c8d9e0f1a2b","partner_id":%d,"visit_datetime":"2024-03-01T09:00:00","memo":"hello"}]`,
		partner))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Sync(s.ctx, "visit", body)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}

	n, err := s.store.Count(s.ctx, "visits", []core.Condition{
		core.Eq("mobile_uid", "0b7a4c1e-2f3d-4e5f-9a6b-7c8d9e0f1a2b"),
	})
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *StoreSuite) TestPaymentDecimalAmount() {
	partner := s.seedPartner("Payer")

	res, err := s.service.Sync(s.ctx, "payment", []byte(fmt.Sprintf(
		`[{"mobile_uid":"it-p-1","partner_id":%d,"amount":1234.56,"memo":"cash"}]`, partner)))
	s.Require().NoError(err)

	p := res.Data[0].(core.PaymentView)
	s.Equal(1234.56, *p.Amount)
	s.Equal("cash", *p.Memo)
	s.Regexp(`^PAY/\d{5}$`, *p.Name)
}

func (s *StoreSuite) TestCredentialsAndSubscriptions() {
	digest := core.DigestKey("integration-key", nil)

	cred, err := s.store.CreateCredential(s.ctx, "tablet", digest, nil)
	s.Require().NoError(err)

	auth := core.NewAuthenticator(s.store, "")
	p, err := auth.Authenticate(s.ctx, "Bearer integration-key")
	s.Require().NoError(err)
	s.Equal(cred.ID, p.CredentialID)

	s.Require().NoError(s.store.RevokeCredential(s.ctx, cred.ID))
	_, err = auth.Authenticate(s.ctx, "integration-key")
	s.ErrorIs(err, core.ErrUnauthorized)

	sub, err := s.store.CreateSubscription(s.ctx, core.Subscription{
		Name:   "erp",
		URL:    "http://example.invalid/hook",
		Secret: "s3cret",
		Active: true,
		Events: []string{"visit.created", "sale.updated"},
	})
	s.Require().NoError(err)
	s.Equal([]string{"sale.updated", "visit.created"}, sub.Events)

	active, err := s.store.ActiveSubscriptions(s.ctx, "visit.created")
	s.Require().NoError(err)
	s.Len(active, 1)

	active, err = s.store.ActiveSubscriptions(s.ctx, "visit.updated")
	s.Require().NoError(err)
	s.Empty(active)

	s.Require().NoError(s.store.RecordDelivery(s.ctx, sub.ID, core.DeliveryOutcome{At: time.Now(), Status: 502, Error: "bad gateway"}))
	got, err := s.store.GetSubscription(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.LastStatus)
	s.Equal(502, *got.LastStatus)
	s.Equal("bad gateway", got.LastError)
}
