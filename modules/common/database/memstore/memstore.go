// Package memstore is an in-memory database.Store used for local development
// (DATA_BACKEND=memory) and as the datastore in tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/model"
)

// Store - 메모리 기반 Store 구현
type Store struct {
	mu sync.RWMutex

	generations   map[string]*model.Generation
	thumbnails    []model.Thumbnail
	portraits     map[string]*model.Portrait
	subscriptions map[string]*model.Subscription
	products      map[string]*model.Product
	prices        map[string]*model.Price
	customers     map[string]*model.Customer
	profiles      map[string]*model.Profile

	now func() time.Time

	// FailThumbnailWrites - 테스트용: 설정 시 썸네일 쓰기가 이 에러로 실패
	FailThumbnailWrites error
	// FailGenerationCreate - 테스트용: 설정 시 generation 생성 실패
	FailGenerationCreate error
}

var _ database.Store = (*Store)(nil)

// New - 빈 Store 생성
func New() *Store {
	return &Store{
		generations:   make(map[string]*model.Generation),
		portraits:     make(map[string]*model.Portrait),
		subscriptions: make(map[string]*model.Subscription),
		products:      make(map[string]*model.Product),
		prices:        make(map[string]*model.Price),
		customers:     make(map[string]*model.Customer),
		profiles:      make(map[string]*model.Profile),
		now:           time.Now,
	}
}

// SetClock - created_at 기록용 시계 교체
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func copyGeneration(g *model.Generation) *model.Generation {
	out := *g
	return &out
}

// PutGeneration - created_at 등을 그대로 보존하며 저장 (시드용)
func (s *Store) PutGeneration(g model.Generation) *model.Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	s.generations[g.ID] = &g
	return copyGeneration(&g)
}

// PutPortrait - portrait 시드
func (s *Store) PutPortrait(p model.Portrait) *model.Portrait {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.portraits[p.ID] = &p
	out := p
	return &out
}

// Thumbnails - 저장된 모든 썸네일 (생성 순)
func (s *Store) Thumbnails() []model.Thumbnail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Thumbnail, len(s.thumbnails))
	copy(out, s.thumbnails)
	return out
}

// Product / Subscription / Customer / GenerationCount - 테스트 조회용
func (s *Store) Product(id string) (*model.Product, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, len(s.products)
	}
	out := *p
	return &out, len(s.products)
}

func (s *Store) Price(id string) *model.Price {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[id]
	if !ok {
		return nil
	}
	out := *p
	return &out
}

func (s *Store) Subscription(id string) *model.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil
	}
	out := *sub
	return &out
}

func (s *Store) GenerationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.generations)
}

// ---------------------------------------------------------------------------
// Generations
// ---------------------------------------------------------------------------

func (s *Store) CountGenerationsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, g := range s.generations {
		if g.UserID == userID && !g.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateGeneration(ctx context.Context, g *model.Generation) (*model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGenerationCreate != nil {
		return nil, s.FailGenerationCreate
	}
	row := *g
	row.ID = uuid.NewString()
	row.CreatedAt = s.now()
	s.generations[row.ID] = &row
	return copyGeneration(&row), nil
}

// checkID - uuid 컬럼 형식 오류는 not-found가 아닌 일반 에러
func checkID(id string) error {
	if !database.ValidID(id) {
		return fmt.Errorf("invalid input syntax for type uuid: %q", id)
	}
	return nil
}

func (s *Store) GetGeneration(ctx context.Context, id string) (*model.Generation, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.generations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyGeneration(g), nil
}

func (s *Store) UpdateGeneration(ctx context.Context, id string, update model.GenerationUpdate, allowedFrom []string) (*model.Generation, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if len(allowedFrom) > 0 && !contains(allowedFrom, g.Status) {
		return nil, database.ErrNotFound
	}
	update.Apply(g)
	return copyGeneration(g), nil
}

func (s *Store) ListGenerations(ctx context.Context, userID string, limit int) ([]model.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Generation
	for _, g := range s.generations {
		if g.UserID == userID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStaleGenerations(ctx context.Context, statuses []string, createdBefore time.Time) ([]model.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Generation
	for _, g := range s.generations {
		if contains(statuses, g.Status) && g.CreatedAt.Before(createdBefore) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Thumbnails
// ---------------------------------------------------------------------------

func (s *Store) InsertThumbnail(ctx context.Context, t *model.Thumbnail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailThumbnailWrites != nil {
		return s.FailThumbnailWrites
	}
	row := *t
	row.ID = uuid.NewString()
	row.CreatedAt = s.now()
	s.thumbnails = append(s.thumbnails, row)
	return nil
}

func (s *Store) UpsertThumbnail(ctx context.Context, t *model.Thumbnail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailThumbnailWrites != nil {
		return s.FailThumbnailWrites
	}
	for i, existing := range s.thumbnails {
		if existing.GenerationID == t.GenerationID &&
			existing.PromptIndex == t.PromptIndex &&
			existing.BackgroundIndex == t.BackgroundIndex {
			row := *t
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			s.thumbnails[i] = row
			return nil
		}
	}
	row := *t
	row.ID = uuid.NewString()
	row.CreatedAt = s.now()
	s.thumbnails = append(s.thumbnails, row)
	return nil
}

func (s *Store) ListThumbnails(ctx context.Context, generationID string) ([]model.Thumbnail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Thumbnail
	for _, t := range s.thumbnails {
		if t.GenerationID == generationID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Portraits
// ---------------------------------------------------------------------------

func (s *Store) GetPortrait(ctx context.Context, userID, portraitID string) (*model.Portrait, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.portraits[portraitID]
	if !ok || p.UserID != userID {
		return nil, database.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *Store) ListPortraits(ctx context.Context, userID string) ([]model.Portrait, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Portrait
	for _, p := range s.portraits {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountPortraits(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.portraits {
		if p.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreatePortrait(ctx context.Context, p *model.Portrait) (*model.Portrait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *p
	row.ID = uuid.NewString()
	row.CreatedAt = s.now()
	s.portraits[row.ID] = &row
	out := row
	return &out, nil
}

func (s *Store) DeletePortrait(ctx context.Context, userID, portraitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.portraits[portraitID]; ok && p.UserID == userID {
		delete(s.portraits, portraitID)
	}
	return nil
}

func (s *Store) SetActivePortrait(ctx context.Context, userID, portraitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.portraits {
		if p.UserID == userID {
			p.IsActive = p.ID == portraitID
		}
	}
	return nil
}

func (s *Store) UpdatePortraitLabel(ctx context.Context, userID, portraitID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portraits[portraitID]
	if !ok || p.UserID != userID {
		return database.ErrNotFound
	}
	p.Label = label
	return nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *Store) CreateProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[p.ID]; ok {
		existing.Email = p.Email
		out := *existing
		return &out, nil
	}
	now := s.now()
	row := model.Profile{ID: p.ID, Email: p.Email, CreatedAt: now, UpdatedAt: now}
	s.profiles[row.ID] = &row
	out := row
	return &out, nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	if update.FullName != nil {
		p.FullName = model.StringPtr(*update.FullName)
	}
	if update.AvatarURL != nil {
		p.AvatarURL = model.StringPtr(*update.AvatarURL)
	}
	if update.OnboardingCompleted != nil {
		p.OnboardingCompleted = *update.OnboardingCompleted
	}
	p.UpdatedAt = s.now()
	out := *p
	return &out, nil
}

// ---------------------------------------------------------------------------
// Billing
// ---------------------------------------------------------------------------

func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if sub.Status != model.SubscriptionActive && sub.Status != model.SubscriptionTrialing {
			continue
		}
		if best == nil || sub.CurrentPeriodEnd.After(best.CurrentPeriodEnd) {
			best = sub
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (s *Store) UpsertProduct(ctx context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *p
	s.products[p.ID] = &row
	return nil
}

func (s *Store) UpsertPrice(ctx context.Context, p *model.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ProductID]; !ok {
		return fmt.Errorf("price %s references unknown product %s", p.ID, p.ProductID)
	}
	row := *p
	s.prices[p.ID] = &row
	return nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.PriceID != "" {
		if _, ok := s.prices[sub.PriceID]; !ok {
			return fmt.Errorf("subscription %s references unknown price %s", sub.ID, sub.PriceID)
		}
	}
	row := *sub
	if existing, ok := s.subscriptions[sub.ID]; ok {
		row.CreatedAt = existing.CreatedAt
	} else {
		row.CreatedAt = s.now()
	}
	s.subscriptions[sub.ID] = &row
	return nil
}

func (s *Store) CancelSubscription(ctx context.Context, subscriptionID string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscriptions[subscriptionID]; ok {
		sub.Status = model.SubscriptionCanceled
		ended := endedAt
		sub.EndedAt = &ended
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, userID string) (*model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[userID]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *Store) GetUserIDByCustomer(ctx context.Context, stripeCustomerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.customers {
		if c.StripeCustomerID == stripeCustomerID {
			return c.ID, nil
		}
	}
	return "", nil
}

func (s *Store) UpsertCustomer(ctx context.Context, c *model.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *c
	s.customers[c.ID] = &row
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
