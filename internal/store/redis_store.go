package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/config"
	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/response"
)

// casStateScript applies hash updates iff the session state matches.
// ARGV[1] is the expected state, the rest are field/value pairs.
var casStateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if cur == ARGV[1] then
  for i = 2, #ARGV, 2 do
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
  end
  return 1
end
return 0
`)

// dedupeTTL keeps answered markers around long past any question's
// lifetime; eviction removes them with the rest of the session.
const dedupeTTL = 6 * time.Hour

// RedisStore implements SessionStore on a single Redis client.
type RedisStore struct {
	rdb  *redis.Client
	keys *config.CacheKeyStruct
	log  zerolog.Logger
}

// NewRedisStore creates the store.
func NewRedisStore(rdb *redis.Client, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb:  rdb,
		keys: config.CacheKey,
		log:  log.With().Str("component", "session_store").Logger(),
	}
}

// wrap classifies a Redis failure as StorageUnavailable so callers can
// route it through the retry predicates.
func wrap(op string, err error) error {
	return response.NewAppError(response.ErrStorageUnavailable, fmt.Errorf("%s: %w", op, err))
}

// ─── Sessions ────────────────────────────────────────────────────────────

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	h, err := s.rdb.HGetAll(ctx, s.keys.SessionKey(sessionID)).Result()
	if err != nil {
		return nil, wrap("get session", err)
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return model.SessionFromHash(h), nil
}

func (s *RedisStore) PutSession(ctx context.Context, sess *model.Session) error {
	if err := s.rdb.HSet(ctx, s.keys.SessionKey(sess.ID), sess.ToHash()).Err(); err != nil {
		return wrap("put session", err)
	}
	return nil
}

func (s *RedisStore) CASSessionState(ctx context.Context, sessionID string, expected model.SessionState, updates map[string]any) (bool, error) {
	args := make([]any, 0, 1+2*len(updates))
	args = append(args, string(expected))
	for field, value := range updates {
		args = append(args, field, fmt.Sprint(value))
	}

	res, err := casStateScript.Run(ctx, s.rdb, []string{s.keys.SessionKey(sessionID)}, args...).Int()
	if err != nil {
		return false, wrap("cas session state", err)
	}
	return res == 1, nil
}

func (s *RedisStore) EvictSession(ctx context.Context, sessionID string, participantIDs []string) error {
	keys := []string{
		s.keys.SessionKey(sessionID),
		s.keys.SessionParticipantsKey(sessionID),
		s.keys.SessionNicknamesKey(sessionID),
		s.keys.SessionLeaderboardKey(sessionID),
		s.keys.SessionAnswerLogKey(sessionID),
	}
	for _, pid := range participantIDs {
		keys = append(keys,
			s.keys.ParticipantSessionKey(pid),
			s.keys.ParticipantAnswerSeqKey(pid),
		)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return wrap("evict session", err)
	}
	return nil
}

func (s *RedisStore) ExpireSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	pipe := s.rdb.Pipeline()
	pipe.Expire(ctx, s.keys.SessionKey(sessionID), ttl)
	pipe.Expire(ctx, s.keys.SessionParticipantsKey(sessionID), ttl)
	pipe.Expire(ctx, s.keys.SessionNicknamesKey(sessionID), ttl)
	pipe.Expire(ctx, s.keys.SessionLeaderboardKey(sessionID), ttl)
	pipe.Expire(ctx, s.keys.SessionAnswerLogKey(sessionID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("expire session", err)
	}
	return nil
}

// ─── Join codes ──────────────────────────────────────────────────────────

func (s *RedisStore) ReserveJoinCode(ctx context.Context, code, sessionID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keys.JoinCodeKey(code), sessionID, 0).Result()
	if err != nil {
		return false, wrap("reserve join code", err)
	}
	return ok, nil
}

func (s *RedisStore) ResolveJoinCode(ctx context.Context, code string) (string, error) {
	sid, err := s.rdb.Get(ctx, s.keys.JoinCodeKey(code)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrap("resolve join code", err)
	}
	return sid, nil
}

func (s *RedisStore) ReleaseJoinCode(ctx context.Context, code string) error {
	if err := s.rdb.Del(ctx, s.keys.JoinCodeKey(code)).Err(); err != nil {
		return wrap("release join code", err)
	}
	return nil
}

// ─── Participants ────────────────────────────────────────────────────────

func (s *RedisStore) PutParticipant(ctx context.Context, p *model.Participant) error {
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, s.keys.ParticipantSessionKey(p.ID), p.ToHash())
	pipe.HSet(ctx, s.keys.SessionParticipantsKey(p.SessionID), p.ID, p.Nickname)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("put participant", err)
	}
	return nil
}

func (s *RedisStore) GetParticipantSession(ctx context.Context, participantID string) (*model.Participant, error) {
	h, err := s.rdb.HGetAll(ctx, s.keys.ParticipantSessionKey(participantID)).Result()
	if err != nil {
		return nil, wrap("get participant", err)
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return model.ParticipantFromHash(h), nil
}

func (s *RedisStore) ListParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	ids, err := s.rdb.HKeys(ctx, s.keys.SessionParticipantsKey(sessionID)).Result()
	if err != nil {
		return nil, wrap("list participants", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, pid := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.ParticipantSessionKey(pid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("list participants", err)
	}

	out := make([]*model.Participant, 0, len(ids))
	for _, cmd := range cmds {
		h, err := cmd.Result()
		if err != nil || len(h) == 0 {
			continue
		}
		out = append(out, model.ParticipantFromHash(h))
	}
	return out, nil
}

func (s *RedisStore) ReserveNickname(ctx context.Context, sessionID, nickname, participantID string) (bool, error) {
	key := s.keys.SessionNicknamesKey(sessionID)
	ok, err := s.rdb.HSetNX(ctx, key, strings.ToLower(nickname), participantID).Result()
	if err != nil {
		return false, wrap("reserve nickname", err)
	}
	return ok, nil
}

func (s *RedisStore) SetParticipantActive(ctx context.Context, participantID string, active bool) error {
	err := s.rdb.HSet(ctx, s.keys.ParticipantSessionKey(participantID), "is_active", strconv.FormatBool(active)).Err()
	if err != nil {
		return wrap("set participant active", err)
	}
	return nil
}

func (s *RedisStore) SetParticipantEliminated(ctx context.Context, participantID string) error {
	err := s.rdb.HSet(ctx, s.keys.ParticipantSessionKey(participantID),
		"is_eliminated", "true", "is_spectator", "true").Err()
	if err != nil {
		return wrap("set participant eliminated", err)
	}
	return nil
}

func (s *RedisStore) SetParticipantBanned(ctx context.Context, participantID string) error {
	err := s.rdb.HSet(ctx, s.keys.ParticipantSessionKey(participantID), "is_banned", "true").Err()
	if err != nil {
		return wrap("set participant banned", err)
	}
	return nil
}

func (s *RedisStore) UpdateParticipantScore(ctx context.Context, participantID string, totalScore, totalTimeMs, lastQuestionScore int64, streakCount int) error {
	err := s.rdb.HSet(ctx, s.keys.ParticipantSessionKey(participantID),
		"total_score", strconv.FormatInt(totalScore, 10),
		"total_time_ms", strconv.FormatInt(totalTimeMs, 10),
		"last_question_score", strconv.FormatInt(lastQuestionScore, 10),
		"streak_count", strconv.Itoa(streakCount),
	).Err()
	if err != nil {
		return wrap("update participant score", err)
	}
	return nil
}

// ─── Leaderboard ─────────────────────────────────────────────────────────

func (s *RedisStore) UpsertLeaderboard(ctx context.Context, sessionID, participantID string, score float64) error {
	err := s.rdb.ZAdd(ctx, s.keys.SessionLeaderboardKey(sessionID), redis.Z{
		Score:  score,
		Member: participantID,
	}).Err()
	if err != nil {
		return wrap("upsert leaderboard", err)
	}
	return nil
}

func (s *RedisStore) GetLeaderboard(ctx context.Context, sessionID string, topN int) ([]model.LeaderboardEntry, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, s.keys.SessionLeaderboardKey(sessionID), 0, int64(topN-1)).Result()
	if err != nil {
		return nil, wrap("get leaderboard", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(zs))
	for i, z := range zs {
		cmds[i] = pipe.HGetAll(ctx, s.keys.ParticipantSessionKey(z.Member.(string)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("get leaderboard", err)
	}

	entries := make([]model.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		entry := model.LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: z.Member.(string),
			Score:         z.Score,
		}
		if h, err := cmds[i].Result(); err == nil && len(h) > 0 {
			p := model.ParticipantFromHash(h)
			entry.Nickname = p.Nickname
			entry.TotalScore = p.TotalScore
			entry.TotalTimeMs = p.TotalTimeMs
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) GetRank(ctx context.Context, sessionID, participantID string) (int, error) {
	rank, err := s.rdb.ZRevRank(ctx, s.keys.SessionLeaderboardKey(sessionID), participantID).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, wrap("get rank", err)
	}
	return int(rank) + 1, nil
}

// ─── Answers ─────────────────────────────────────────────────────────────

func (s *RedisStore) NextAnswerID(ctx context.Context, participantID string) (int64, error) {
	id, err := s.rdb.Incr(ctx, s.keys.ParticipantAnswerSeqKey(participantID)).Result()
	if err != nil {
		return 0, wrap("next answer id", err)
	}
	return id, nil
}

func (s *RedisStore) TryMarkAnswered(ctx context.Context, sessionID, participantID, questionID string) (bool, error) {
	key := s.keys.AnswerDedupeKey(sessionID, participantID, questionID)
	ok, err := s.rdb.SetNX(ctx, key, "1", dedupeTTL).Result()
	if err != nil {
		return false, wrap("mark answered", err)
	}
	return ok, nil
}

func (s *RedisStore) HasAnswered(ctx context.Context, sessionID, participantID, questionID string) (bool, error) {
	key := s.keys.AnswerDedupeKey(sessionID, participantID, questionID)
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("check answered", err)
	}
	return n > 0, nil
}

func (s *RedisStore) AppendAnswer(ctx context.Context, a *model.Answer) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	if err := s.rdb.RPush(ctx, s.keys.SessionAnswerLogKey(a.SessionID), raw).Err(); err != nil {
		return wrap("append answer", err)
	}
	return nil
}

func (s *RedisStore) BufferAnswerForScoring(ctx context.Context, a *model.Answer) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	key := s.keys.ScoringBufferKey(a.SessionID, a.QuestionID)
	if err := s.rdb.RPush(ctx, key, raw).Err(); err != nil {
		return wrap("buffer answer", err)
	}
	return nil
}

func (s *RedisStore) DrainAnswerBuffer(ctx context.Context, sessionID, questionID string) ([]*model.Answer, error) {
	key := s.keys.ScoringBufferKey(sessionID, questionID)

	pipe := s.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("drain answer buffer", err)
	}

	raws, err := rangeCmd.Result()
	if err != nil {
		return nil, wrap("drain answer buffer", err)
	}

	out := make([]*model.Answer, 0, len(raws))
	for _, raw := range raws {
		var a model.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			s.log.Error().Err(err).Str("session_id", sessionID).Msg("Invalid answer in scoring buffer")
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

// ─── Scoring markers ─────────────────────────────────────────────────────

func (s *RedisStore) GetScoredMarker(ctx context.Context, participantID, questionID string) (int64, error) {
	v, err := s.rdb.Get(ctx, s.keys.ParticipantScoredMarkerKey(participantID, questionID)).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, wrap("get scored marker", err)
	}
	id, _ := strconv.ParseInt(v, 10, 64)
	return id, nil
}

func (s *RedisStore) SetScoredMarker(ctx context.Context, participantID, questionID string, answerID int64) error {
	key := s.keys.ParticipantScoredMarkerKey(participantID, questionID)
	if err := s.rdb.Set(ctx, key, strconv.FormatInt(answerID, 10), dedupeTTL).Err(); err != nil {
		return wrap("set scored marker", err)
	}
	return nil
}
