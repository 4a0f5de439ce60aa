package routes

import (
	"messenger/api/handlers"

	"github.com/gin-gonic/gin"
)

// PublicApi регистрирует эндпоинты; auth - middleware аутентификации для закрытой части
func PublicApi(router *gin.Engine, auth gin.HandlerFunc) *gin.RouterGroup {
	publicEndpoints := router.Group("/api/v1/")
	{
		publicEndpoints.POST("auth/register", handlers.Register)
		publicEndpoints.POST("auth/login", handlers.Login)
	}

	private := publicEndpoints.Group("", auth)
	{
		private.POST("auth/logout", handlers.Logout)
		private.GET("user/me", handlers.Me)
		private.GET("user/search", handlers.UserSearch)
		private.GET("user/get/:id", handlers.UserGet)

		// Друзья
		private.POST("friends/requests", handlers.SendFriendRequest)
		private.POST("friends/requests/:id/respond", handlers.RespondFriendRequest)
		private.GET("friends/requests", handlers.GetPendingRequests)
		private.GET("friends/list", handlers.GetFriends)
		private.DELETE("friends/:id", handlers.DeleteFriend)

		// Личные сообщения
		private.GET("dialogs", handlers.ListConversationsHandler)
		private.GET("dialogs/:user_id/messages", handlers.ListDialogHandler)
		private.POST("dialogs/:user_id/messages", handlers.SendMessageHandler)
		private.POST("dialogs/:user_id/read", handlers.MarkReadHandler)
		private.PATCH("messages/:id", handlers.EditMessageHandler)
		private.DELETE("messages/:id", handlers.DeleteMessageHandler)
		private.POST("messages/:id/read", handlers.MarkMessageReadHandler)

		// Группы
		private.POST("groups", handlers.CreateGroup)
		private.GET("groups", handlers.ListGroups)
		private.GET("groups/:id", handlers.GetGroup)
		private.PATCH("groups/:id", handlers.UpdateGroup)
		private.DELETE("groups/:id", handlers.DeleteGroup)
		private.POST("groups/:id/members", handlers.AddGroupMember)
		private.DELETE("groups/:id/members/:user_id", handlers.RemoveGroupMember)
		private.GET("groups/:id/messages", handlers.ListGroupMessages)
		private.POST("groups/:id/messages", handlers.SendGroupMessage)
		private.PATCH("group-messages/:id", handlers.EditGroupMessage)
		private.DELETE("group-messages/:id", handlers.DeleteGroupMessage)

		private.GET("ws", handlers.WSHandler)
	}
	return publicEndpoints
}
