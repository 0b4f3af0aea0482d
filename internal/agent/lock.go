package agent

import "sync"

// walletLock 按键串行化执行。同一条链共用一个钱包合约，并发提交会在
// nonce 上竞争，所以同链的质押必须一个接一个地跑；不同链互不影响。
type walletLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newWalletLock() *walletLock {
	return &walletLock{locks: make(map[string]*sync.Mutex)}
}

// acquire 锁定指定键并返回解锁函数。
func (l *walletLock) acquire(key string) func() {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
