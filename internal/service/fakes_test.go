package service_test

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/boddenberg/credits-report-go/internal/domain"
	"github.com/boddenberg/credits-report-go/internal/port"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

// --- In-memory store ---

// memStore keeps the tables in memory. WriteTx works on a copy of the plans
// and only keeps it when fn succeeds, mirroring a rollback.
type memStore struct {
	users      map[int64]domain.User
	credits    []domain.Credit
	dictionary []domain.DictionaryEntry
	plans      []domain.Plan
	nextPlanID int64

	err error // returned by every query when set

	readTxs         int
	writeTxs        int
	dictionaryLoads int
}

func newMemStore() *memStore {
	return &memStore{
		users: map[int64]domain.User{},
		dictionary: []domain.DictionaryEntry{
			{ID: 1, Name: "body"},
			{ID: 2, Name: "interest"},
			{ID: 3, Name: "issuance"},
			{ID: 4, Name: "collection"},
		},
		nextPlanID: 1,
	}
}

func (s *memStore) ReadTx(_ context.Context, fn func(q port.Queries) error) error {
	s.readTxs++
	return fn(&memQueries{s: s, plans: s.plans, nextID: s.nextPlanID})
}

func (s *memStore) WriteTx(_ context.Context, fn func(q port.Queries) error) error {
	s.writeTxs++
	q := &memQueries{s: s, plans: append([]domain.Plan(nil), s.plans...), nextID: s.nextPlanID}
	if err := fn(q); err != nil {
		return err
	}
	s.plans, s.nextPlanID = q.plans, q.nextID
	return nil
}

func (s *memStore) addUser(id int64) {
	s.users[id] = domain.User{ID: id, Login: "user" + strconv.FormatInt(id, 10), RegistrationDate: day("2023-01-01")}
}

func (s *memStore) addCredit(userID int64, issued, due, body string, payments ...domain.Payment) {
	c := domain.Credit{
		ID:           int64(len(s.credits) + 1),
		UserID:       userID,
		IssuanceDate: day(issued),
		ReturnDate:   day(due),
		Body:         dec(body),
		Percent:      dec("10"),
	}
	for i := range payments {
		payments[i].CreditID = c.ID
	}
	c.Payments = payments
	s.credits = append(s.credits, c)
}

func (s *memStore) addPlan(period, category, sum string) {
	id := s.categoryID(category)
	s.plans = append(s.plans, domain.Plan{
		ID: s.nextPlanID, Period: day(period), Sum: dec(sum), CategoryID: id, Category: category,
	})
	s.nextPlanID++
}

func (s *memStore) categoryID(name string) int64 {
	for _, e := range s.dictionary {
		if e.Name == name {
			return e.ID
		}
	}
	return 0
}

func (s *memStore) categoryName(id int64) string {
	for _, e := range s.dictionary {
		if e.ID == id {
			return e.Name
		}
	}
	return ""
}

type memQueries struct {
	s      *memStore
	plans  []domain.Plan
	nextID int64
}

func (q *memQueries) GetUser(_ context.Context, id int64) (*domain.User, error) {
	if q.s.err != nil {
		return nil, q.s.err
	}
	u, ok := q.s.users[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: strconv.FormatInt(id, 10)}
	}
	return &u, nil
}

func (q *memQueries) ListUserCredits(_ context.Context, userID int64) ([]domain.Credit, error) {
	if q.s.err != nil {
		return nil, q.s.err
	}
	var out []domain.Credit
	for _, c := range q.s.credits {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (q *memQueries) ListDictionary(context.Context) ([]domain.DictionaryEntry, error) {
	if q.s.err != nil {
		return nil, q.s.err
	}
	q.s.dictionaryLoads++
	return append([]domain.DictionaryEntry(nil), q.s.dictionary...), nil
}

func (q *memQueries) PlanExists(_ context.Context, period domain.Date, categoryID int64) (bool, error) {
	if q.s.err != nil {
		return false, q.s.err
	}
	for _, p := range q.plans {
		if p.Period.Equal(period.Time) && p.CategoryID == categoryID {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) InsertPlans(_ context.Context, plans []domain.Plan) ([]domain.Plan, error) {
	if q.s.err != nil {
		return nil, q.s.err
	}
	out := make([]domain.Plan, len(plans))
	for i, p := range plans {
		p.ID = q.nextID
		q.nextID++
		q.plans = append(q.plans, p)
		out[i] = p
	}
	return out, nil
}

func (q *memQueries) ListPlansThrough(_ context.Context, cutoff domain.Date) ([]domain.Plan, error) {
	return q.filterPlans(func(p domain.Plan) bool { return !p.Period.After(cutoff.Time) })
}

func (q *memQueries) ListPlansIn(_ context.Context, period domain.Period) ([]domain.Plan, error) {
	return q.filterPlans(func(p domain.Plan) bool { return within(period, p.Period) })
}

func (q *memQueries) filterPlans(keep func(domain.Plan) bool) ([]domain.Plan, error) {
	if q.s.err != nil {
		return nil, q.s.err
	}
	var out []domain.Plan
	for _, p := range q.plans {
		if keep(p) {
			p.Category = q.s.categoryName(p.CategoryID)
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Period.Equal(out[j].Period.Time) {
			return out[i].Period.Before(out[j].Period.Time)
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out, nil
}

func (q *memQueries) IssuedCredits(_ context.Context, period domain.Period) (domain.Totals, error) {
	if q.s.err != nil {
		return domain.Totals{}, q.s.err
	}
	t := domain.Totals{Sum: decimal.Zero}
	for _, c := range q.s.credits {
		if within(period, c.IssuanceDate) {
			t.Sum = t.Sum.Add(c.Body)
			t.Count++
		}
	}
	return t, nil
}

func (q *memQueries) ReceivedPayments(_ context.Context, period domain.Period) (domain.Totals, error) {
	if q.s.err != nil {
		return domain.Totals{}, q.s.err
	}
	t := domain.Totals{Sum: decimal.Zero}
	for _, c := range q.s.credits {
		for _, p := range c.Payments {
			if within(period, p.PaymentDate) {
				t.Sum = t.Sum.Add(p.Sum)
				t.Count++
			}
		}
	}
	return t, nil
}

func (q *memQueries) CollectedPayments(_ context.Context, issuedFrom, paidBefore domain.Date) (decimal.Decimal, error) {
	if q.s.err != nil {
		return decimal.Zero, q.s.err
	}
	total := decimal.Zero
	for _, c := range q.s.credits {
		if c.IssuanceDate.Before(issuedFrom.Time) {
			continue
		}
		for _, p := range c.Payments {
			if p.PaymentDate.Before(paidBefore.Time) {
				total = total.Add(p.Sum)
			}
		}
	}
	return total, nil
}

func within(p domain.Period, d domain.Date) bool {
	return !d.Before(p.From.Time) && d.Before(p.To.Time)
}

// --- Publisher ---

type mockPublisher struct {
	events []domain.PlansIngestedEvent
	err    error
}

func (m *mockPublisher) PublishPlansIngested(_ context.Context, e domain.PlansIngestedEvent) error {
	m.events = append(m.events, e)
	return m.err
}

// --- Helpers ---

func day(s string) domain.Date {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func payment(date, sum string, typeID int64) domain.Payment {
	return domain.Payment{PaymentDate: day(date), Sum: dec(sum), TypeID: typeID}
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s: expected %s, got %s", name, want, got)
	}
}

// counterValue reads a counter from the registry; zero when it was never
// incremented.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
