package status

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// State 表示单个导入任务的可见生命周期状态。
type State string

const (
	StatePending   State = "pending"
	StateUploading State = "uploading"
	StateDone      State = "done"
	StateError     State = "error"
)

const (
	defaultLimit  = 50
	doneRetention = 20 * time.Second
	sweepInterval = 5 * time.Second
	maxErrorChars = 120
	progressCeil  = 95
	minTickDelay  = 300 * time.Millisecond
	tickDelaySpan = 250 * time.Millisecond
)

// Entry 是一条会话级导入状态，按任务 id 唯一。
type Entry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	State       State     `json:"state"`
	Progress    int       `json:"progress"`
	Duplicate   bool      `json:"duplicate"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

// Store 维护新在前、上限 50 条的导入状态列表。
// 所有写入按 id 在同一把锁下进行，任务回调交错也不会互相覆盖；
// done 条目由周期清扫在 20 秒后移除，error 条目保留到显式删除。
type Store struct {
	mu      sync.Mutex
	entries []*Entry
	stops   map[string]chan struct{}

	limit     int
	retention time.Duration

	now       func() time.Time
	newTicker func(time.Duration) ticker
	tickDelay func() time.Duration
	step      func() int
}

// NewStore 创建状态存储。
func NewStore() *Store {
	return &Store{
		stops:     make(map[string]chan struct{}),
		limit:     defaultLimit,
		retention: doneRetention,
		now:       time.Now,
		newTicker: defaultTicker,
		tickDelay: func() time.Duration {
			return minTickDelay + time.Duration(rand.Int63n(int64(tickDelaySpan)))
		},
		step: func() int { return 5 + rand.Intn(13) },
	}
}

// Seed 在列表头部插入一条 pending 状态，超出上限时淘汰最旧条目。
func (s *Store) Seed(id, name string, size int64, duplicate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append([]*Entry{{
		ID:        id,
		Name:      name,
		Size:      size,
		State:     StatePending,
		Duplicate: duplicate,
	}}, s.entries...)

	for len(s.entries) > s.limit {
		evicted := s.entries[len(s.entries)-1]
		s.entries = s.entries[:len(s.entries)-1]
		s.stopLocked(evicted.ID)
	}
}

// MarkUploading 将任务切换到 uploading 并启动模拟进度。
// 进度按随机步长递增、封顶 95，跳到 100 只会发生在真实的 done 转换上。
func (s *Store) MarkUploading(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.findLocked(id)
	if entry == nil || entry.State != StatePending {
		return
	}
	entry.State = StateUploading

	stop := make(chan struct{})
	s.stops[id] = stop
	go s.simulate(id, stop)
}

// MarkDone 结束任务：进度置 100，记录完成时间。
func (s *Store) MarkDone(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.findLocked(id)
	if entry == nil || entry.State == StateDone || entry.State == StateError {
		return
	}
	s.stopLocked(id)
	entry.State = StateDone
	entry.Progress = 100
	entry.CompletedAt = s.now()
}

// MarkError 以截断后的错误信息终结任务，条目保留到显式删除。
func (s *Store) MarkError(id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.findLocked(id)
	if entry == nil || entry.State == StateDone || entry.State == StateError {
		return
	}
	s.stopLocked(id)
	entry.State = StateError
	entry.Error = truncate(msg, maxErrorChars)
	entry.CompletedAt = s.now()
}

// List 返回新在前的状态快照。
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Get 返回指定任务的状态快照。
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry := s.findLocked(id); entry != nil {
		return *entry, true
	}
	return Entry{}, false
}

// Remove 删除单条状态并清理其进度定时器。
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(id)
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Clear 清空所有状态与定时器。
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.stops {
		s.stopLocked(id)
	}
	s.entries = nil
}

// Sweep 移除完成超过保留期的 done 条目，error 条目不参与清扫。
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.State == StateDone && e.CompletedAt.Before(cutoff) {
			s.stopLocked(e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
}

// Run 周期执行清扫，直到上下文取消。
func (s *Store) Run(ctx context.Context) error {
	tick := s.newTicker(sweepInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C():
			s.Sweep()
		}
	}
}

func (s *Store) simulate(id string, stop <-chan struct{}) {
	for {
		timer := time.NewTimer(s.tickDelay())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			if !s.bump(id) {
				return
			}
		}
	}
}

// bump 推进一次模拟进度，任务已离开 uploading 时返回 false。
func (s *Store) bump(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.findLocked(id)
	if entry == nil || entry.State != StateUploading {
		return false
	}
	next := entry.Progress + s.step()
	if next > progressCeil {
		next = progressCeil
	}
	if next > entry.Progress {
		entry.Progress = next
	}
	return true
}

func (s *Store) findLocked(id string) *Entry {
	for _, e := range s.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Store) stopLocked(id string) {
	if stop, ok := s.stops[id]; ok {
		close(stop)
		delete(s.stops, id)
	}
}

func truncate(msg string, limit int) string {
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	return string(runes[:limit-1]) + "…"
}

func defaultTicker(d time.Duration) ticker {
	t := time.NewTicker(d)
	return tickerWrapper{t}
}

type tickerWrapper struct {
	*time.Ticker
}

func (t tickerWrapper) C() <-chan time.Time { return t.Ticker.C }
func (t tickerWrapper) Stop()               { t.Ticker.Stop() }
