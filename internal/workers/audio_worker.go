package workers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/providers/stt"
	"github.com/yoockh/yoointerview/internal/services"
)

// AudioWorkerPool transcribes streamed answer audio chunk by chunk. The
// transcripts are assembled when the answer is submitted without one.
type AudioWorkerPool struct {
	Redis      *redis.Client
	Buffers    services.BufferService
	NumWorkers int

	STT      stt.Provider
	Language string
	HTTP     *http.Client

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *AudioWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Buffers == nil || p.STT == nil {
		return errors.New("AudioWorkerPool missing dependency: Redis/Buffers/STT must be set")
	}
	if p.Stream == "" {
		p.Stream = "audio:stream"
	}
	if p.Group == "" {
		p.Group = "audio-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.HTTP == nil {
		p.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *AudioWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *AudioWorkerPool) publish(ctx context.Context, channel string, payload map[string]any) {
	b, _ := json.Marshal(payload)
	_ = p.Redis.Publish(ctx, channel, b).Err()
}

func (p *AudioWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	getStr := func(k string) string {
		s, _ := msg.Values[k].(string)
		return s
	}

	sessionID := getStr("session_id")
	questionID := getStr("question_id")
	chunkIndex, _ := strconv.ParseInt(getStr("chunk_index"), 10, 64)
	if sessionID == "" || questionID == "" || chunkIndex <= 0 {
		return
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":    msg.ID,
		"session_id":  sessionID,
		"question_id": questionID,
		"chunk_index": chunkIndex,
	})

	respCh := "session:" + sessionID + ":response"
	statusCh := services.StatusChannel(sessionID)
	status := func(state, message string) {
		p.publish(ctx, statusCh, map[string]any{
			"type":        "chunk_status",
			"status":      state,
			"message":     message,
			"question_id": questionID,
			"chunk_index": chunkIndex,
		})
	}
	fail := func(message string, err error) {
		log.WithError(err).Warn(message)
		_ = p.Buffers.MarkSTT(ctx, sessionID, questionID, chunkIndex, "", 0, models.ChunkFailed, 0)
		status(models.ChunkFailed, message)
	}

	audio, err := p.fetchAudio(ctx, getStr("audio_base64"), getStr("audio_url"))
	if err != nil {
		fail("audio unavailable", err)
		return
	}

	start := time.Now()
	_ = p.Buffers.MarkSTT(ctx, sessionID, questionID, chunkIndex, "", 0, models.ChunkProcessing, 0)
	status(models.ChunkProcessing, "stt processing")

	language := stt.NormalizeLanguage(getStr("language"), p.Language)
	text, conf, err := p.STT.Transcribe(ctx, audio, language)
	if err != nil {
		fail("stt failed", err)
		return
	}

	procMS := time.Since(start).Milliseconds()
	if err := p.Buffers.MarkSTT(ctx, sessionID, questionID, chunkIndex, text, conf, models.ChunkDone, procMS); err != nil {
		log.WithError(err).Error("store transcript failed")
	}
	p.publish(ctx, respCh, map[string]any{
		"type":               "stt_result",
		"question_id":        questionID,
		"chunk_index":        chunkIndex,
		"text":               text,
		"confidence":         conf,
		"processing_time_ms": procMS,
	})
	status(models.ChunkDone, "chunk transcribed")
}

func (p *AudioWorkerPool) fetchAudio(ctx context.Context, b64, url string) ([]byte, error) {
	if b64 != "" {
		raw := b64
		if i := strings.Index(raw, ","); i >= 0 {
			raw = raw[i+1:] // strip data:...;base64,
		}
		return base64.StdEncoding.DecodeString(raw)
	}
	if url == "" {
		return nil, errors.New("chunk has no audio")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("audio_url returned " + resp.Status)
	}

	const maxBytes = 10 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty audio")
	}
	return body, nil
}
