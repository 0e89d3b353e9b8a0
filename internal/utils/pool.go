package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

type WorkerFunc = func(t *tomb.Tomb, task any) error

// WorkerPool fans tasks out to a fixed set of workers whose lifecycle is
// tied to one tomb.
type WorkerPool struct {
	n     int      // number of workers
	tasks chan any // buffered task queue
}

func NewWorkerPool(n uint) WorkerPool {
	return WorkerPool{
		n:     int(n),
		tasks: make(chan any, taskChanSize),
	}
}

// AddTask queues a task for the next free worker. Blocks when the queue
// is full, which back-pressures producers.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup spawns the workers under the tomb. Workers run until the tomb
// dies or their work function returns an error.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunc) {
	for i := 0; i < pool.n; i++ {
		id := i
		t.Go(func() error {
			return pool.worker(t, id, work)
		})
	}
}

func (pool *WorkerPool) worker(t *tomb.Tomb, id int, work WorkerFunc) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Int("worker", id).Msg("worker exiting")
				return err
			}
		}
	}
}
