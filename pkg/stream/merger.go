// Package stream 负责把流式增量分块合并为完整文本，
// 并基于首个代码围栏（```）驱动一次性的状态转换。
package stream

import "strings"

const fence = "```"

// Merge 把一个增量分块按到达顺序并入已累积文本。
// 分块必须严格按到达顺序应用，乱序会得到错误文本。
func Merge(prev, delta string) string {
	return prev + delta
}

// Turn 持有一个 assistant 回合内的累积文本与围栏状态。
// 两个布尔标志在回合内单调锁存；新回合必须使用新的 Turn 值，
// 不允许跨回合、跨会话共享。
type Turn struct {
	text        string
	fenceOpened bool
	fenceClosed bool
}

// NewTurn 开始一个新的 assistant 回合。
func NewTurn() *Turn {
	return &Turn{}
}

// Append 并入一个增量分块，返回本次分块触发了哪些转换事件。
// 每个事件在一个回合内最多触发一次。
func (t *Turn) Append(delta string) (justOpened, justClosed bool) {
	t.text = Merge(t.text, delta)

	opened, closed := scanFirstFence(t.text)
	if opened && !t.fenceOpened {
		t.fenceOpened = true
		justOpened = true
	}
	if closed && !t.fenceClosed {
		t.fenceClosed = true
		justClosed = true
	}
	return justOpened, justClosed
}

// Text 返回当前累积的完整文本。
func (t *Turn) Text() string {
	return t.text
}

// FenceOpened 表示首个代码围栏的开栏符已经出现。
func (t *Turn) FenceOpened() bool {
	return t.fenceOpened
}

// FenceClosed 表示首个代码围栏已经成对闭合。FenceClosed 蕴含 FenceOpened。
func (t *Turn) FenceClosed() bool {
	return t.fenceClosed
}

// scanFirstFence 在累积文本中定位首个三反引号围栏。
// 开栏行允许携带语言标注（如 ```tsx），闭合取其后的下一个围栏符。
func scanFirstFence(text string) (opened, closed bool) {
	start := strings.Index(text, fence)
	if start < 0 {
		return false, false
	}

	// 跳过开栏行剩余部分（语言标注），从下一行开始找闭合符
	rest := text[start+len(fence):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		// 开栏行尚未结束，闭合不可能出现
		return true, false
	}
	return true, strings.Contains(rest, fence)
}
