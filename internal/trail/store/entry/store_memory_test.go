package entry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"custos/internal/trail/hash"
	"custos/internal/trail/models"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	chain *hash.Chain
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	chain, err := hash.New(hash.EpochSHA256)
	require.NoError(s.T(), err)
	s.chain = chain
	s.store = NewInMemoryStore(chain)
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) append(action, actor string) models.Entry {
	e, err := s.store.Append(s.ctx, models.Draft{
		Action:       action,
		ActorID:      actor,
		Category:     models.CategoryUserAction,
		ResourceType: "record",
		RiskLevel:    models.RiskLow,
	})
	s.Require().NoError(err)
	return e
}

func (s *InMemoryStoreSuite) TestAppend_ChainsHashes() {
	first := s.append("login", "a1")
	second := s.append("logout", "a1")

	s.Equal(int64(1), first.Seq)
	s.Equal(s.chain.Genesis(), first.PrevHash)
	s.Equal(int64(2), second.Seq)
	s.Equal(first.EntryHash, second.PrevHash)

	seq, tip, err := s.store.Tip(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), seq)
	s.Equal(second.EntryHash, tip)
}

func (s *InMemoryStoreSuite) TestAppend_MonotonicTimestamps() {
	var prev models.Entry
	for i := 0; i < 50; i++ {
		e := s.append("view", "a1")
		if i > 0 {
			s.True(e.Timestamp.After(prev.Timestamp), "seq %d", e.Seq)
		}
		prev = e
	}
}

func (s *InMemoryStoreSuite) TestAppend_ConcurrentWritersPreserveChain() {
	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.store.Append(s.ctx, models.Draft{
					Action:       "update",
					ActorID:      fmt.Sprintf("writer-%d", w),
					Category:     models.CategoryDataChange,
					ResourceType: "record",
					RiskLevel:    models.RiskLow,
				})
				require.NoError(s.T(), err)
			}
		}(w)
	}
	wg.Wait()

	entries, err := s.store.Range(s.ctx, 1, writers*perWriter, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, writers*perWriter)

	prevHash := s.chain.Genesis()
	for i, e := range entries {
		s.Equal(int64(i+1), e.Seq)
		s.Equal(prevHash, e.PrevHash, "seq %d", e.Seq)
		ok, err := s.chain.Verify(e, prevHash)
		s.Require().NoError(err)
		s.True(ok, "seq %d", e.Seq)
		prevHash = e.EntryHash
	}
}

func (s *InMemoryStoreSuite) TestQuery_AscendingAppendOrder() {
	for i := 0; i < 10; i++ {
		s.append("view", fmt.Sprintf("a%d", i%3))
	}

	entries, next, err := s.store.Query(s.ctx, models.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 10)
	s.Zero(next)

	for i := 1; i < len(entries); i++ {
		s.Greater(entries[i].Seq, entries[i-1].Seq)
	}
}

func (s *InMemoryStoreSuite) TestQuery_Filters() {
	s.append("login", "alice")
	s.append("export", "bob")
	s.append("login", "alice")

	entries, _, err := s.store.Query(s.ctx, models.Filter{ActorID: "alice", Action: "login"})
	s.Require().NoError(err)
	s.Len(entries, 2)

	entries, _, err = s.store.Query(s.ctx, models.Filter{Action: "export"})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("bob", entries[0].ActorID)
}

func (s *InMemoryStoreSuite) TestQuery_CursorStableUnderAppends() {
	for i := 0; i < 5; i++ {
		s.append("view", "a1")
	}

	page1, next, err := s.store.Query(s.ctx, models.Filter{Limit: 3})
	s.Require().NoError(err)
	s.Require().Len(page1, 3)
	s.Equal(int64(3), next)

	// Appends between pages must not shift the continuation.
	s.append("view", "a1")

	page2, _, err := s.store.Query(s.ctx, models.Filter{Limit: 3, Cursor: next})
	s.Require().NoError(err)
	s.Require().Len(page2, 3)
	s.Equal(int64(4), page2[0].Seq)
}

func (s *InMemoryStoreSuite) TestDeleteRange_KeepsTip() {
	for i := 0; i < 6; i++ {
		s.append("view", "a1")
	}
	_, tipBefore, err := s.store.Tip(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.store.DeleteRange(s.ctx, 1, 4))

	first, last, err := s.store.Bounds(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(5), first)
	s.Equal(int64(6), last)

	seq, tipAfter, err := s.store.Tip(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(6), seq)
	s.Equal(tipBefore, tipAfter)
}
