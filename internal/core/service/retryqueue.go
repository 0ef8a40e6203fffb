package service

import (
	"container/heap"
	"time"
)

// RetryJob is one deferred cloud API command.
type RetryJob struct {
	Command     string
	Enable      bool
	SubmittedAt time.Time
	Attempts    int
	NotBefore   time.Time

	index int
}

// RetryQueue orders deferred jobs by their next-attempt time.
type RetryQueue struct {
	jobs retryHeap
}

func NewRetryQueue() *RetryQueue {
	q := &RetryQueue{}
	heap.Init(&q.jobs)
	return q
}

func (q *RetryQueue) Len() int {
	return q.jobs.Len()
}

// Schedule enqueues a job to run no earlier than notBefore.
func (q *RetryQueue) Schedule(job *RetryJob, notBefore time.Time) {
	job.NotBefore = notBefore
	heap.Push(&q.jobs, job)
}

// PopDue removes and returns the earliest job whose time has come, or
// nil when nothing is due yet.
func (q *RetryQueue) PopDue(now time.Time) *RetryJob {
	if q.jobs.Len() == 0 {
		return nil
	}
	if q.jobs[0].NotBefore.After(now) {
		return nil
	}
	return heap.Pop(&q.jobs).(*RetryJob)
}

// NextDue returns the wake-up time of the earliest pending job.
func (q *RetryQueue) NextDue() (time.Time, bool) {
	if q.jobs.Len() == 0 {
		return time.Time{}, false
	}
	return q.jobs[0].NotBefore, true
}

type retryHeap []*RetryJob

func (h retryHeap) Len() int { return len(h) }

func (h retryHeap) Less(i, j int) bool {
	return h[i].NotBefore.Before(h[j].NotBefore)
}

func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *retryHeap) Push(x any) {
	job := x.(*RetryJob)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
