package chatclient

import "sync"

// PageCache 是消息分页缓存的唯一属主。三类写入方——乐观插入、
// 流式分块合并、分页拉取——都通过它完成，每次写入都是整页替换，
// 不存在跨写入方可见的字段级部分修改。
type PageCache struct {
	mu      sync.Mutex
	pages   []Page
	version uint64
	// primed 为 false 表示缓存已失效（或从未填充），
	// 读取方应触发一次权威拉取。
	primed bool
}

// NewPageCache 创建一个空的 PageCache。
func NewPageCache() *PageCache {
	return &PageCache{}
}

// Version 返回当前版本号。每次写入递增，读取方可据此判断缓存是否变动。
func (c *PageCache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Primed 返回缓存是否持有有效数据。
func (c *PageCache) Primed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primed
}

// Pages 返回全部页的深拷贝。
func (c *PageCache) Pages() []Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages := make([]Page, len(c.pages))
	for i, p := range c.pages {
		pages[i] = p.clone()
	}
	return pages
}

// SnapshotFirstPage 返回首页的深拷贝，作为乐观插入前的回滚快照。
// 缓存为空时返回空页。
func (c *PageCache) SnapshotFirstPage() Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pages) == 0 {
		return Page{}
	}
	return c.pages[0].clone()
}

// PatchFirstPage 在锁内以整页替换的方式修改首页。
// 缓存为空时先引导出一个空页集，再应用修改，不会失败。
// fn 收到的是深拷贝，返回值成为新的首页。
func (c *PageCache) PatchFirstPage(fn func(Page) Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pages) == 0 {
		c.pages = []Page{{}}
	}
	c.pages[0] = fn(c.pages[0].clone())
	c.primed = true
	c.version++
}

// ReplaceFirstPage 用给定页整体替换首页（错误回滚路径）。
func (c *PageCache) ReplaceFirstPage(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pages) == 0 {
		c.pages = []Page{{}}
	}
	c.pages[0] = p.clone()
	c.version++
}

// ReplaceAll 用一组新页整体替换缓存内容（权威拉取完成）。
func (c *PageCache) ReplaceAll(pages []Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = make([]Page, len(pages))
	for i, p := range pages {
		c.pages[i] = p.clone()
	}
	c.primed = true
	c.version++
}

// AppendPageAfter 在末页的 NextCursor 仍等于 cursor 时追加一页。
// 若缓存在拉取期间被失效或被其他写入改动过游标，结果直接丢弃，
// 保证陈旧的分页响应不会写回。
func (c *PageCache) AppendPageAfter(cursor string, p Page) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.primed || len(c.pages) == 0 {
		return false
	}
	if c.pages[len(c.pages)-1].NextCursor != cursor {
		return false
	}
	c.pages = append(c.pages, p.clone())
	c.version++
	return true
}

// NextCursor 返回末页的游标；缓存为空或没有更早的页时返回空串。
func (c *PageCache) NextCursor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pages) == 0 {
		return ""
	}
	return c.pages[len(c.pages)-1].NextCursor
}

// Invalidate 将缓存标记为失效，强制下一次读取回源服务端。
// 现有页保留不动，直到权威拉取真正到达时由 ReplaceAll 整体替换；
// 回源失败时读取方仍能看到失效前的内容（包括错误路径还原的快照）。
func (c *PageCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primed = false
	c.version++
}
