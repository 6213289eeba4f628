package chatclient

// Entry 是展示层的一条消息，附带相邻渲染提示。
type Entry struct {
	ChatMessage
	// IsNextMessageSamePerson 表示展示顺序上的下一条消息（更新的那条）
	// 是否来自同一方，仅用于渲染时合并头像，不是存储属性。
	IsNextMessageSamePerson bool
}

// loadingEntryID 是加载指示伪消息的固定 ID，只存在于展示层。
const loadingEntryID = "loading-message"

// View 将分页缓存与在途发送状态合流为一个展示序列。
type View struct {
	cache  *PageCache
	engine *Engine
}

// NewView 创建一个新的 View 实例。
func NewView(cache *PageCache, engine *Engine) *View {
	return &View{cache: cache, engine: engine}
}

// Flatten 把全部缓存页平铺为一个整体倒序（最新在前）的展示序列，
// 页内顺序保持不变，页按新页在前排列。发送进行中时在最前面
// 前插一条加载指示伪消息。
func (v *View) Flatten() []Entry {
	var combined []ChatMessage
	if v.engine != nil && v.engine.IsLoading() {
		combined = append(combined, ChatMessage{
			ID:            loadingEntryID,
			IsUserMessage: false,
			Kind:          KindLoading,
		})
	}
	for _, page := range v.cache.Pages() {
		combined = append(combined, page.Messages...)
	}

	entries := make([]Entry, len(combined))
	for i, m := range combined {
		entries[i] = Entry{ChatMessage: m}
		// 序列是最新在前，所以展示上的“下一条”是 i-1
		if i > 0 {
			entries[i].IsNextMessageSamePerson = combined[i-1].IsUserMessage == m.IsUserMessage
		}
	}
	return entries
}

// HasMore 返回是否还有更早的页可拉。
func (v *View) HasMore() bool {
	return v.cache.NextCursor() != ""
}
