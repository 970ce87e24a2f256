package util

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// EvictReason 说明一个元素离开缓存的原因。
type EvictReason int

const (
	EvictCapacity EvictReason = iota // 超出容量或权重
	EvictExpired                     // TTL 过期
	EvictDeleted                     // 被显式删除
)

// CacheConfig 用于配置LRU缓存的行为。
type CacheConfig[K comparable, V any] struct {
	// Capacity 是缓存的最大元素数量。如果为0，则不限制数量。
	Capacity int
	// MaxWeight 是缓存中所有元素的最大权重总和。如果为0，则不限制权重。
	MaxWeight int
	// TTL 是元素的存活时间。如果为0，则元素永不过期。每次访问都会续期。
	TTL time.Duration
	// OnEvict 在元素被移出缓存后调用，调用时不持有缓存锁。
	OnEvict func(key K, value V, reason EvictReason)
	// Now 返回当前时间，为空时使用 time.Now。
	Now func() time.Time
}

// entry 结构体用于存储链表节点中的实际数据。
type entry[K comparable, V any] struct {
	key        K
	value      V
	weight     int       // 元素的权重
	expiration time.Time // 元素的过期时间
}

type evicted[K comparable, V any] struct {
	key    K
	value  V
	reason EvictReason
}

// LRUCache 是一个支持泛型、可配置且线程安全的LRU缓存。
type LRUCache[K comparable, V any] struct {
	config        CacheConfig[K, V]
	ll            *list.List
	cache         map[K]*list.Element
	currentWeight int
	lock          sync.Mutex
}

// NewWithConfig 使用指定的配置创建一个LRU缓存实例。
func NewWithConfig[K comparable, V any](config CacheConfig[K, V]) (*LRUCache[K, V], error) {
	// 至少要有一个限制条件
	if config.Capacity <= 0 && config.MaxWeight <= 0 {
		return nil, fmt.Errorf("必须设置 Capacity 或 MaxWeight 中的至少一个")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &LRUCache[K, V]{
		config: config,
		ll:     list.New(),
		cache:  make(map[K]*list.Element),
	}, nil
}

// Get 方法根据键获取一个值，命中时续期并标记为最近使用。
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	v, ok, gone := c.get(key)
	c.lock.Unlock()
	c.fire(gone)
	return v, ok
}

func (c *LRUCache[K, V]) get(key K) (V, bool, []evicted[K, V]) {
	var zeroV V
	element, ok := c.cache[key]
	if !ok {
		return zeroV, false, nil
	}

	// 检查TTL是否过期（被动淘汰）
	e := element.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeElement(element)
		return zeroV, false, []evicted[K, V]{{e.key, e.value, EvictExpired}}
	}

	c.touch(e)
	c.ll.MoveToFront(element)
	return e.value, true, nil
}

// Put 方法向缓存中添加或更新一个键值对，并指定其权重。
// 如果使用基于容量的淘汰，可以为 weight 传入 1。
func (c *LRUCache[K, V]) Put(key K, value V, weight int) {
	c.lock.Lock()
	gone := c.put(key, value, weight)
	c.lock.Unlock()
	c.fire(gone)
}

// GetOrPut 返回 key 对应的值；不存在时用 create 创建并写入。
func (c *LRUCache[K, V]) GetOrPut(key K, create func() V, weight int) V {
	c.lock.Lock()
	v, ok, gone := c.get(key)
	if !ok {
		v = create()
		gone = append(gone, c.put(key, v, weight)...)
	}
	c.lock.Unlock()
	c.fire(gone)
	return v
}

func (c *LRUCache[K, V]) put(key K, value V, weight int) []evicted[K, V] {
	if element, ok := c.cache[key]; ok {
		// 更新现有元素
		e := element.Value.(*entry[K, V])
		c.currentWeight += weight - e.weight
		e.weight = weight
		e.value = value
		c.touch(e)
		c.ll.MoveToFront(element)
	} else {
		e := &entry[K, V]{key: key, value: value, weight: weight}
		c.touch(e)
		c.cache[key] = c.ll.PushFront(e)
		c.currentWeight += weight
	}

	// 一个大的新元素可能需要淘汰多个旧元素
	var gone []evicted[K, V]
	for c.isOverCapacity() {
		back := c.ll.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry[K, V])
		c.removeElement(back)
		gone = append(gone, evicted[K, V]{e.key, e.value, EvictCapacity})
	}
	return gone
}

// Delete 删除 key，返回被删除的值。
func (c *LRUCache[K, V]) Delete(key K) (V, bool) {
	c.lock.Lock()
	element, ok := c.cache[key]
	if !ok {
		c.lock.Unlock()
		var zeroV V
		return zeroV, false
	}
	e := element.Value.(*entry[K, V])
	c.removeElement(element)
	c.lock.Unlock()
	c.fire([]evicted[K, V]{{e.key, e.value, EvictDeleted}})
	return e.value, true
}

// PurgeExpired 主动移除所有已过期的元素，返回移除的数量。
func (c *LRUCache[K, V]) PurgeExpired() int {
	if c.config.TTL <= 0 {
		return 0
	}
	c.lock.Lock()
	var gone []evicted[K, V]
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry[K, V])
		if c.expired(e) {
			c.removeElement(el)
			gone = append(gone, evicted[K, V]{e.key, e.value, EvictExpired})
		}
		el = prev
	}
	c.lock.Unlock()
	c.fire(gone)
	return len(gone)
}

// Keys 返回当前的键，按最近使用到最久未使用排列。
func (c *LRUCache[K, V]) Keys() []K {
	c.lock.Lock()
	defer c.lock.Unlock()
	keys := make([]K, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

func (c *LRUCache[K, V]) touch(e *entry[K, V]) {
	if c.config.TTL > 0 {
		e.expiration = c.config.Now().Add(c.config.TTL)
	}
}

func (c *LRUCache[K, V]) expired(e *entry[K, V]) bool {
	return c.config.TTL > 0 && c.config.Now().After(e.expiration)
}

func (c *LRUCache[K, V]) fire(gone []evicted[K, V]) {
	if c.config.OnEvict == nil {
		return
	}
	for _, g := range gone {
		c.config.OnEvict(g.key, g.value, g.reason)
	}
}

// isOverCapacity 检查缓存是否超出容量或权重限制。
// 此方法假设已持有锁。
func (c *LRUCache[K, V]) isOverCapacity() bool {
	if c.config.Capacity > 0 && c.ll.Len() > c.config.Capacity {
		return true
	}
	if c.config.MaxWeight > 0 && c.currentWeight > c.config.MaxWeight {
		return true
	}
	return false
}

// removeElement 从链表和map中移除元素。
// 此方法假设已持有锁。
func (c *LRUCache[K, V]) removeElement(e *list.Element) {
	c.ll.Remove(e)
	en := e.Value.(*entry[K, V])
	delete(c.cache, en.key)
	c.currentWeight -= en.weight
}

// Len 返回当前缓存中的条目数量。
func (c *LRUCache[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ll.Len()
}

// Weight 返回当前缓存中所有元素的总权重。
func (c *LRUCache[K, V]) Weight() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.currentWeight
}
