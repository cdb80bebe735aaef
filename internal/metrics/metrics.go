package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type collectors struct {
	once sync.Once

	jobsFinished       *prometheus.CounterVec
	jobsByStatus       *prometheus.GaugeVec
	jobDuration        prometheus.Histogram
	batchesUpserted    prometheus.Counter
	batchFailures      prometheus.Counter
	chunksIndexed      prometheus.Counter
	filesSkipped       *prometheus.CounterVec
	questions          *prometheus.CounterVec
	questionDuration   prometheus.Histogram
	rerankDegraded     prometheus.Counter
	unverifiedCitation prometheus.Counter
	persistFailures    prometheus.Counter
	embedCache         *prometheus.CounterVec
}

var m collectors

func (c *collectors) init() {
	c.once.Do(func() {
		buckets := []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}
		c.jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repoqa_index_jobs_finished_total", Help: "Index jobs that reached a terminal state"}, []string{"status"})
		c.jobsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "repoqa_index_jobs", Help: "Index jobs currently stored per status"}, []string{"status"})
		c.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repoqa_index_job_seconds", Help: "Duration of one index job run", Buckets: buckets})
		c.batchesUpserted = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoqa_index_batches_upserted_total", Help: "Chunk batches committed to the vector store"})
		c.batchFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoqa_index_batch_failures_total", Help: "Chunk batches that failed to embed or upsert"})
		c.chunksIndexed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoqa_index_chunks_total", Help: "Chunks committed to the vector store"})
		c.filesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repoqa_index_files_skipped_total", Help: "Files skipped during indexing"}, []string{"reason"})
		c.questions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repoqa_questions_total", Help: "Questions answered by outcome"}, []string{"outcome"})
		c.questionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repoqa_question_seconds", Help: "Time from question to decoded answer", Buckets: buckets})
		c.rerankDegraded = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoqa_rerank_degraded_total", Help: "Questions answered without reranking after a reranker failure"})
		c.unverifiedCitation = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoqa_unverified_citations_total", Help: "Citations that do not point into the supplied context"})
		c.persistFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoqa_conversation_persist_failures_total", Help: "Conversation appends that failed"})

		c.embedCache = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repoqa_embedding_cache_lookups_total", Help: "Embedding cache lookups per layer and result"}, []string{"layer", "result"})

		prometheus.MustRegister(
			c.jobsFinished, c.jobsByStatus, c.jobDuration,
			c.batchesUpserted, c.batchFailures, c.chunksIndexed, c.filesSkipped,
			c.questions, c.questionDuration,
			c.rerankDegraded, c.unverifiedCitation, c.persistFailures,
			c.embedCache,
		)
	})
}

func Handler() http.Handler {
	m.init()
	return promhttp.Handler()
}

func JobFinished(status string, took time.Duration) {
	m.init()
	m.jobsFinished.WithLabelValues(status).Inc()
	m.jobDuration.Observe(took.Seconds())
}

// SetJobCounts replaces the per status gauges. Statuses absent from counts
// read as zero.
func SetJobCounts(counts map[string]int) {
	m.init()
	m.jobsByStatus.Reset()
	for status, n := range counts {
		m.jobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func BatchUpserted(chunks int) {
	m.init()
	m.batchesUpserted.Inc()
	m.chunksIndexed.Add(float64(chunks))
}

func BatchFailed() { m.init(); m.batchFailures.Inc() }

func FilesSkipped(reason string, n int) {
	if n <= 0 {
		return
	}
	m.init()
	m.filesSkipped.WithLabelValues(reason).Add(float64(n))
}

func QuestionAnswered(outcome string, took time.Duration) {
	m.init()
	m.questions.WithLabelValues(outcome).Inc()
	m.questionDuration.Observe(took.Seconds())
}

func RerankDegraded() { m.init(); m.rerankDegraded.Inc() }

func UnverifiedCitations(n int) {
	if n <= 0 {
		return
	}
	m.init()
	m.unverifiedCitation.Add(float64(n))
}

func PersistFailed() { m.init(); m.persistFailures.Inc() }

// EmbeddingCacheLookup counts a lookup in one cache layer ("memory" or "db").
func EmbeddingCacheLookup(layer string, hit bool) {
	m.init()
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embedCache.WithLabelValues(layer, result).Inc()
}
