package remote

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
)

func TestParentID(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"a.txt", RootID},
		{"Photos/", RootID},
		{"Photos/1.jpg", "Photos/"},
		{"Photos/2024/", "Photos/"},
		{"Photos/2024/x.png", "Photos/2024/"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, parentID(tt.key))
		})
	}
}

func TestFolderObject(t *testing.T) {
	obj := folderObject("Photos/2024/", aws.ToTime(nil))
	assert.Equal(t, "2024", obj.Name)
	assert.True(t, obj.IsFolder())
	assert.Equal(t, []string{"Photos/"}, obj.Parents)
}

func TestKeyOfAndETag(t *testing.T) {
	assert.Equal(t, "", keyOf(RootID))
	assert.Equal(t, "Photos/", keyOf("Photos/"))
	assert.Equal(t, "abc", cleanETag(aws.String(`"abc"`)))
}
