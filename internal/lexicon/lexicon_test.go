package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetContains(t *testing.T) {
	s := Set{"打卡", "hi", "check in"}

	assert.True(t, s.Contains("今天跑步打卡了"))
	assert.True(t, s.Contains("Hi there"))
	assert.True(t, s.Contains("time to CHECK IN"))
	assert.True(t, s.Contains("你好hi"))
	assert.False(t, s.Contains("this is nothing"), "ascii keywords match whole words only")
}

func TestSetFirst(t *testing.T) {
	s := Set{"明天", "今天"}

	kw, ok := s.First("今天和明天")
	assert.True(t, ok)
	assert.Equal(t, "今天", kw)

	_, ok = s.First("没有")
	assert.False(t, ok)
}

func TestSetMatches(t *testing.T) {
	s := Set{"累", "焦虑", "压力"}
	assert.Equal(t, []string{"累", "压力"}, s.Matches("最近压力大，好累"))
}
