package gateway

type fanoutJob struct {
	conns   []*Conn
	payload []byte
	exclude func(*Conn) bool
}

// Fanout 广播工作池：把同一帧推给一组连接的 send 队列。
// 投递到队列即完成，慢客户端由 Conn 自己丢帧。
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, c := range job.conns {
					if job.exclude != nil && job.exclude(c) {
						continue
					}
					c.enqueue(job.payload)
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(conns []*Conn, payload []byte, exclude func(*Conn) bool) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload, exclude: exclude}
}
