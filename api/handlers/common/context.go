package common

import "github.com/gin-gonic/gin"

// UserIDKey gin 上下文中的用户标识
const UserIDKey = "user_id"

// UserID 读取中间件写入的用户标识
func UserID(c *gin.Context) string {
	if v, ok := c.Get(UserIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
