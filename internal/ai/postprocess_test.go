package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAnswer(t *testing.T) {
	in := "First point.  \n\nFIRST   point.\n\nSecond point."
	assert.Equal(t, "First point.\n\nSecond point.", DedupeAnswer(in))
}

func TestEnforceNoSourceContract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "标题与列表分段",
			in:   "Guidance here.\n\n## Sources\n\n- Family Laws Ordinance\n\nStay safe.",
			want: "Guidance here.\n\nStay safe.\n\n" + NoSourceNotice,
		},
		{
			name: "加粗行内标题",
			in:   "Guidance.\n\n**Sources:** Protection Act",
			want: "Guidance.\n\n" + NoSourceNotice,
		},
		{
			name: "已包含提示语不重复",
			in:   "Guidance.\n\n" + NoSourceNotice,
			want: "Guidance.\n\n" + NoSourceNotice,
		},
		{
			name: "普通段落中的 sources 不受影响",
			in:   "Sources of support include NGOs.",
			want: "Sources of support include NGOs.\n\n" + NoSourceNotice,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EnforceNoSourceContract(tt.in))
		})
	}
}

func TestPostProcessAnswer(t *testing.T) {
	out := PostProcessAnswer("Issue\n2\n\nSee $5 here.\n\n$7 applies.", true)
	assert.True(t, strings.HasPrefix(out, "Issue 2"))
	assert.Contains(t, out, "Section 7 applies.")
	assert.NotContains(t, out, NoSourceNotice)
}
