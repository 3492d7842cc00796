// Package collectiontest provides an in-memory collection.Repository for tests.
package collectiontest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
)

type statKey struct {
	accountID string
	at        time.Time
}

type state struct {
	accounts     map[string]domain.Account
	accountSnaps []domain.AccountSnapshot
	insights     map[statKey]domain.AccountInsight
	posts        map[string]domain.Post
	postsByExt   map[string]string
	snapshots    []domain.MetricSnapshot
	daily        map[statKey]domain.DailyStat
	monthly      map[statKey]domain.MonthlyStat
	runs         map[string]domain.CollectionRun
}

func newState() *state {
	return &state{
		accounts:   map[string]domain.Account{},
		insights:   map[statKey]domain.AccountInsight{},
		posts:      map[string]domain.Post{},
		postsByExt: map[string]string{},
		daily:      map[statKey]domain.DailyStat{},
		monthly:    map[statKey]domain.MonthlyStat{},
		runs:       map[string]domain.CollectionRun{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.accountSnaps = append([]domain.AccountSnapshot(nil), s.accountSnaps...)
	for k, v := range s.insights {
		c.insights[k] = v
	}
	for k, v := range s.posts {
		c.posts[k] = v
	}
	for k, v := range s.postsByExt {
		c.postsByExt[k] = v
	}
	c.snapshots = append([]domain.MetricSnapshot(nil), s.snapshots...)
	for k, v := range s.daily {
		c.daily[k] = v
	}
	for k, v := range s.monthly {
		c.monthly[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	return c
}

// Repository is safe for concurrent use. Transactions are serialized and
// applied atomically.
type Repository struct {
	mu sync.Mutex
	st *state

	// OnUpsertPost, when set, runs before every post upsert; a non-nil error aborts it.
	OnUpsertPost func(post domain.Post) error
	// OnAppendAccountSnapshot, when set, runs before every account snapshot
	// append; a non-nil error aborts it.
	OnAppendAccountSnapshot func(snap domain.AccountSnapshot) error
	// Unavailable, when set, makes every call fail with collection.ErrUnavailable.
	Unavailable bool
}

var _ collection.Repository = (*Repository)(nil)

func New() *Repository {
	return &Repository{st: newState()}
}

func (r *Repository) unavailable() error {
	if r.Unavailable {
		return fmt.Errorf("memory store: %w", collection.ErrUnavailable)
	}
	return nil
}

func (r *Repository) store() *store {
	return &store{st: r.st, repo: r}
}

func (r *Repository) InTx(ctx context.Context, fn func(collection.Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return err
	}

	tx := &store{st: r.st.clone(), repo: r}
	if err := fn(tx); err != nil {
		return err
	}
	r.st = tx.st
	return nil
}

func (r *Repository) UpsertAccount(ctx context.Context, a domain.Account) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().UpsertAccount(ctx, a)
}

func (r *Repository) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetAccount(ctx, id)
}

func (r *Repository) GetActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetActiveAccounts(ctx)
}

func (r *Repository) MarkAccountSynced(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().MarkAccountSynced(ctx, id, at)
}

func (r *Repository) SetAccountTokenValid(ctx context.Context, id string, valid bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().SetAccountTokenValid(ctx, id, valid)
}

func (r *Repository) AppendAccountSnapshot(ctx context.Context, snap domain.AccountSnapshot) (domain.AccountSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().AppendAccountSnapshot(ctx, snap)
}

func (r *Repository) GetLatestAccountSnapshot(ctx context.Context, accountID string, atOrBefore time.Time) (*domain.AccountSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetLatestAccountSnapshot(ctx, accountID, atOrBefore)
}

func (r *Repository) UpsertAccountInsight(ctx context.Context, in domain.AccountInsight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().UpsertAccountInsight(ctx, in)
}

func (r *Repository) GetAccountInsight(ctx context.Context, accountID string, day time.Time) (*domain.AccountInsight, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetAccountInsight(ctx, accountID, day)
}

func (r *Repository) UpsertPost(ctx context.Context, post domain.Post) (domain.Post, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().UpsertPost(ctx, post)
}

func (r *Repository) AppendMetricSnapshot(ctx context.Context, snap domain.MetricSnapshot) (domain.MetricSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().AppendMetricSnapshot(ctx, snap)
}

func (r *Repository) GetDaySnapshots(ctx context.Context, accountID string, from, to time.Time) ([]domain.PostSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetDaySnapshots(ctx, accountID, from, to)
}

func (r *Repository) ListPostsPublished(ctx context.Context, accountID string, from, to time.Time) ([]domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().ListPostsPublished(ctx, accountID, from, to)
}

func (r *Repository) ListPostsWithoutSnapshots(ctx context.Context, accountID string, since time.Time) ([]domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().ListPostsWithoutSnapshots(ctx, accountID, since)
}

func (r *Repository) UpsertDailyStat(ctx context.Context, stat domain.DailyStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().UpsertDailyStat(ctx, stat)
}

func (r *Repository) GetDailyStatsForMonth(ctx context.Context, accountID string, month time.Time) ([]domain.DailyStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetDailyStatsForMonth(ctx, accountID, month)
}

func (r *Repository) UpsertMonthlyStat(ctx context.Context, stat domain.MonthlyStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().UpsertMonthlyStat(ctx, stat)
}

func (r *Repository) GetMonthlyStat(ctx context.Context, accountID string, month time.Time) (*domain.MonthlyStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetMonthlyStat(ctx, accountID, month)
}

func (r *Repository) RecordRun(ctx context.Context, run domain.CollectionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().RecordRun(ctx, run)
}

func (r *Repository) AbandonRunningRuns(ctx context.Context, accountID string, finishedAt time.Time, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().AbandonRunningRuns(ctx, accountID, finishedAt, reason)
}

func (r *Repository) GetLastRun(ctx context.Context, accountID string, outcomes ...domain.RunOutcome) (*domain.CollectionRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetLastRun(ctx, accountID, outcomes...)
}

// Posts returns every stored post ordered by external id.
func (r *Repository) Posts() []domain.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Post, 0, len(r.st.posts))
	for _, p := range r.st.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// Snapshots returns every stored metric snapshot in insertion order.
func (r *Repository) Snapshots() []domain.MetricSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.MetricSnapshot(nil), r.st.snapshots...)
}

// AccountSnapshots returns every stored account snapshot in insertion order.
func (r *Repository) AccountSnapshots() []domain.AccountSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AccountSnapshot(nil), r.st.accountSnaps...)
}

// Runs returns every recorded run ordered by start time.
func (r *Repository) Runs() []domain.CollectionRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CollectionRun, 0, len(r.st.runs))
	for _, run := range r.st.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// store implements collection.Store over a state without locking.
type store struct {
	st   *state
	repo *Repository
}

func (s *store) UpsertAccount(ctx context.Context, a domain.Account) (domain.Account, error) {
	if err := s.repo.unavailable(); err != nil {
		return domain.Account{}, err
	}
	for id, existing := range s.st.accounts {
		if existing.ExternalID == a.ExternalID {
			a.ID = id
			a.LastSyncedAt = existing.LastSyncedAt
			a.CreatedAt = existing.CreatedAt
			s.st.accounts[id] = a
			return a, nil
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.st.accounts[a.ID] = a
	return a, nil
}

func (s *store) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	if err := s.repo.unavailable(); err != nil {
		return domain.Account{}, err
	}
	a, ok := s.st.accounts[id]
	if !ok {
		return domain.Account{}, collection.ErrNotFound
	}
	return a, nil
}

func (s *store) GetActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := s.repo.unavailable(); err != nil {
		return nil, err
	}
	var out []domain.Account
	for _, a := range s.st.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *store) MarkAccountSynced(ctx context.Context, id string, at time.Time) error {
	if err := s.repo.unavailable(); err != nil {
		return err
	}
	a, ok := s.st.accounts[id]
	if !ok {
		return collection.ErrNotFound
	}
	at = at.UTC()
	a.LastSyncedAt = &at
	s.st.accounts[id] = a
	return nil
}

func (s *store) SetAccountTokenValid(ctx context.Context, id string, valid bool) error {
	if err := s.repo.unavailable(); err != nil {
		return err
	}
	a, ok := s.st.accounts[id]
	if !ok {
		return collection.ErrNotFound
	}
	a.TokenValid = valid
	s.st.accounts[id] = a
	return nil
}

func (s *store) AppendAccountSnapshot(ctx context.Context, snap domain.AccountSnapshot) (domain.AccountSnapshot, error) {
	if err := s.repo.unavailable(); err != nil {
		return domain.AccountSnapshot{}, err
	}
	if s.repo.OnAppendAccountSnapshot != nil {
		if err := s.repo.OnAppendAccountSnapshot(snap); err != nil {
			return domain.AccountSnapshot{}, err
		}
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.RecordedAt = snap.RecordedAt.UTC()
	s.st.accountSnaps = append(s.st.accountSnaps, snap)
	return snap, nil
}

func (s *store) GetLatestAccountSnapshot(ctx context.Context, accountID string, atOrBefore time.Time) (*domain.AccountSnapshot, error) {
	if err := s.repo.unavailable(); err != nil {
		return nil, err
	}
	var latest *domain.AccountSnapshot
	for i := range s.st.accountSnaps {
		snap := s.st.accountSnaps[i]
		if snap.AccountID != accountID || snap.RecordedAt.After(atOrBefore) {
			continue
		}
		if latest == nil || !snap.RecordedAt.Before(latest.RecordedAt) {
			c := snap
			latest = &c
		}
	}
	return latest, nil
}

func (s *store) UpsertAccountInsight(ctx context.Context, in domain.AccountInsight) error {
	if err := s.repo.unavailable(); err != nil {
		return err
	}
	in.Day = collection.DayStart(in.Day)
	in.RecordedAt = in.RecordedAt.UTC()
	s.st.insights[statKey{in.AccountID, in.Day}] = in
	return nil
}

func (s *store) GetAccountInsight(ctx context.Context, accountID string, day time.Time) (*domain.AccountInsight, error) {
	if err := s.repo.unavailable(); err != nil {
		return nil, err
	}
	in, ok := s.st.insights[statKey{accountID, collection.DayStart(day)}]
	if !ok {
		return nil, nil
	}
	return &in, nil
}

func (s *store) UpsertPost(ctx context.Context, post domain.Post) (domain.Post, bool, error) {
	if err := s.repo.unavailable(); err != nil {
		return domain.Post{}, false, err
	}
	if s.repo.OnUpsertPost != nil {
		if err := s.repo.OnUpsertPost(post); err != nil {
			return domain.Post{}, false, err
		}
	}
	if id, ok := s.st.postsByExt[post.ExternalID]; ok {
		return s.st.posts[id], false, nil
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	post.PostedAt = post.PostedAt.UTC()
	s.st.posts[post.ID] = post
	s.st.postsByExt[post.ExternalID] = post.ID
	return post, true, nil
}

func (s *store) AppendMetricSnapshot(ctx context.Context, snap domain.MetricSnapshot) (domain.MetricSnapshot, error) {
	if err := s.repo.unavailable(); err != nil {
		return domain.MetricSnapshot{}, err
	}
	if _, ok := s.st.posts[snap.PostID]; !ok {
		return domain.MetricSnapshot{}, fmt.Errorf("append snapshot: unknown post %q", snap.PostID)
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.RecordedAt = snap.RecordedAt.UTC()
	s.st.snapshots = append(s.st.snapshots, snap)
	return snap, nil
}

func (s *store) GetDaySnapshots(ctx context.Context, accountID string, from, to time.Time) ([]domain.PostSnapshot, error) {
	if err := s.repo.unavailable(); err != nil {
		return nil, err
	}
	latest := map[string]domain.MetricSnapshot{}
	for _, snap := range s.st.snapshots {
		post := s.st.posts[snap.PostID]
		if post.AccountID != accountID || snap.RecordedAt.Before(from) || !snap.RecordedAt.Before(to) {
			continue
		}
		if cur, ok := latest[snap.PostID]; !ok || !snap.RecordedAt.Before(cur.RecordedAt) {
			latest[snap.PostID] = snap
		}
	}
	out := make([]domain.PostSnapshot, 0, len(latest))
	for postID, snap := range latest {
		out = append(out, domain.PostSnapshot{Post: s.st.posts[postID], Snapshot: snap})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Post.ID < out[j].Post.ID })
	return out, nil
}

func (s *store) ListPostsPublished(ctx context.Context, accountID string, from, to time.Time) ([]domain.Post, error) {
	if err := s.repo.unavailable(); err != nil {
		return nil, err
	}
	var out []domain.Post
	for _, p := range s.st.posts {
		if p.AccountID == accountID && !p.PostedAt.Before(from) && p.PostedAt.Before(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.Before(out[j].PostedAt)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out, nil
}

func (s *store) ListPostsWithoutSnapshots(ctx context.Context, accountID string, since time.Time) ([]domain.Post, error) {
	if err := s.repo.unavailable(); err != nil {
		return nil, err
	}
	measured := map[string]bool{}
	for _, snap := range s.st.snapshots {
		measured[snap.PostID] = true
	}
	var out []domain.Post
	for _, p := range s.st.posts {
		if p.AccountID == accountID && !p.PostedAt.Before(since) && !measured[p.ID] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.Before(out[j].PostedAt)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out, nil
}

func (s *store) UpsertDailyStat(ctx context.Context, stat domain.DailyStat) error {
	if err := s.repo.unavailable(); err != nil {
		return err
	}
	stat.Day = collection.DayStart(stat.Day)
	s.st.daily[statKey{stat.AccountID, stat.Day}] = stat
	return nil
}

func (s *store) GetDailyStatsForMonth(ctx context.Context, accountID string, month time.Time) ([]domain.DailyStat, error) {
	if err := s.repo.unavailable(); err != nil {
		return nil, err
	}
	start := collection.MonthStart(month)
	end := start.AddDate(0, 1, 0)
	var out []domain.DailyStat
	for k, v := range s.st.daily {
		if k.accountID == accountID && !k.at.Before(start) && k.at.Before(end) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *store) UpsertMonthlyStat(ctx context.Context, stat domain.MonthlyStat) error {
	if err := s.repo.unavailable(); err != nil {
		return err
	}
	stat.Month = collection.MonthStart(stat.Month)
	s.st.monthly[statKey{stat.AccountID, stat.Month}] = stat
	return nil
}

func (s *store) GetMonthlyStat(ctx context.Context, accountID string, month time.Time) (*domain.MonthlyStat, error) {
	if err := s.repo.unavailable(); err != nil {
		return nil, err
	}
	stat, ok := s.st.monthly[statKey{accountID, collection.MonthStart(month)}]
	if !ok {
		return nil, nil
	}
	return &stat, nil
}

func (s *store) RecordRun(ctx context.Context, run domain.CollectionRun) error {
	if err := s.repo.unavailable(); err != nil {
		return err
	}
	if run.Outcome == domain.OutcomeRunning {
		for id, other := range s.st.runs {
			if id != run.ID && other.AccountID == run.AccountID && other.Outcome == domain.OutcomeRunning {
				return fmt.Errorf("record run: %w: account %s already has running run %s",
					collection.ErrAlreadyExists, run.AccountID, id)
			}
		}
	}
	run.AffectedDays = append([]time.Time(nil), run.AffectedDays...)
	s.st.runs[run.ID] = run
	return nil
}

func (s *store) AbandonRunningRuns(ctx context.Context, accountID string, finishedAt time.Time, reason string) (int, error) {
	if err := s.repo.unavailable(); err != nil {
		return 0, err
	}
	closed := 0
	for id, run := range s.st.runs {
		if run.AccountID != accountID || run.Outcome != domain.OutcomeRunning {
			continue
		}
		at := finishedAt.UTC()
		run.Outcome = domain.OutcomeFailed
		run.FinishedAt = &at
		run.Error = reason
		s.st.runs[id] = run
		closed++
	}
	return closed, nil
}

func (s *store) GetLastRun(ctx context.Context, accountID string, outcomes ...domain.RunOutcome) (*domain.CollectionRun, error) {
	if err := s.repo.unavailable(); err != nil {
		return nil, err
	}
	var last *domain.CollectionRun
	for _, run := range s.st.runs {
		if run.AccountID != accountID || !matches(run.Outcome, outcomes) {
			continue
		}
		if last == nil || run.StartedAt.After(last.StartedAt) {
			c := run
			last = &c
		}
	}
	return last, nil
}

func matches(o domain.RunOutcome, outcomes []domain.RunOutcome) bool {
	if len(outcomes) == 0 {
		return true
	}
	for _, want := range outcomes {
		if o == want {
			return true
		}
	}
	return false
}
