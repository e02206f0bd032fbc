package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/core/user"
)

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"

	chatRoomsPath = "/v1/chat/rooms"
)

func roomPath(id int) string {
	return chatRoomsPath + "/" + strconv.Itoa(id)
}

type chatApi struct {
	usrSvc   *user.Service
	rooms    *chat.Registry
	messages *chat.MessageStore
}

func registerChatAPI(
	g *echo.Group,
	auth []echo.MiddlewareFunc,
	usrSvc *user.Service,
	rooms *chat.Registry,
	messages *chat.MessageStore,
) {
	api := chatApi{
		usrSvc:   usrSvc,
		rooms:    rooms,
		messages: messages,
	}

	cg := g.Group("/chat", auth...)
	cg.GET("/rooms", api.list)
	cg.GET("/rooms/:id", api.retrieve)
	cg.POST("/rooms/:id", api.updateMembership)
	cg.GET("/create-or-redirect", api.createOrRedirect)
	cg.POST("/create-confirm", api.confirmCreate)
}

// Handlers

func (api *chatApi) list(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	userRooms, err := api.rooms.ListMembership(reqCtx, usr.ID)
	if err != nil {
		return errors.Wrap(err, "listing user rooms")
	}
	otherRooms, err := api.rooms.ListNonMembership(reqCtx, usr.ID)
	if err != nil {
		return errors.Wrap(err, "listing other rooms")
	}
	return ctx.JSON(http.StatusOK, RoomListResponse{UserRooms: userRooms, OtherRooms: otherRooms})
}

func (api *chatApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()

	room, err := api.rooms.Get(reqCtx, id)
	if err != nil {
		return errors.Wrap(err, "getting room")
	}
	isMember, err := api.rooms.IsMember(reqCtx, room.ID, usr.ID)
	if err != nil {
		return errors.Wrap(err, "checking membership")
	}
	msgs, err := api.messages.ListByRoom(reqCtx, room.ID)
	if err != nil {
		return errors.Wrap(err, "listing messages")
	}

	names := make(map[int]string)
	history := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		name, ok := names[msg.SenderID]
		if !ok {
			if sender, err := api.usrSvc.GetByID(reqCtx, msg.SenderID); err == nil {
				name = sender.DisplayName()
			}
			names[msg.SenderID] = name
		}
		history = append(history, MessageView{
			ID:          msg.ID,
			Content:     msg.Content,
			DisplayName: name,
			CreatedAt:   msg.CreatedAt,
		})
	}

	return ctx.JSON(http.StatusOK, RoomResponse{Room: room, IsMember: isMember, Messages: history})
}

func (api *chatApi) updateMembership(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}

	var data MembershipRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MembershipRequest")
	}

	reqCtx := ctx.Request().Context()
	switch core.CleanString(data.Action, true /* lower */) {
	case actionSubscribe:
		err = api.rooms.AddMember(reqCtx, id, usr.ID)
	case actionUnsubscribe:
		err = api.rooms.RemoveMember(reqCtx, id, usr.ID)
	default:
		// unknown actions leave the membership alone
		_, err = api.rooms.Get(reqCtx, id)
	}
	if err != nil {
		return errors.Wrap(err, "updating membership")
	}
	return ctx.Redirect(http.StatusFound, roomPath(id))
}

func (api *chatApi) createOrRedirect(ctx echo.Context) error {
	name := core.CleanString(ctx.QueryParam("room_name"))
	if name == "" {
		return ctx.Redirect(http.StatusFound, chatRoomsPath)
	}

	room, err := api.rooms.GetByName(ctx.Request().Context(), name)
	switch errors.Cause(err) {
	case nil:
		return ctx.Redirect(http.StatusFound, roomPath(room.ID))
	case chat.ErrRoomNotFound:
		return ctx.JSON(http.StatusOK, CreateConfirmResponse{RoomName: name, Exists: false})
	default:
		return errors.Wrap(err, "getting room by name")
	}
}

func (api *chatApi) confirmCreate(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data chat.NewRoom
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRoom")
	}

	reqCtx := ctx.Request().Context()
	room, _, err := api.rooms.GetOrCreate(reqCtx, data)
	if err != nil {
		return err
	}
	if err = api.rooms.AddMember(reqCtx, room.ID, usr.ID); err != nil {
		return errors.Wrap(err, "adding room member")
	}
	return ctx.Redirect(http.StatusFound, roomPath(room.ID))
}

type (
	RoomListResponse struct {
		UserRooms  []chat.Room `json:"user_rooms"`
		OtherRooms []chat.Room `json:"other_rooms"`
	}

	MessageView struct {
		ID          int       `json:"id"`
		Content     string    `json:"content"`
		DisplayName string    `json:"display_name"`
		CreatedAt   time.Time `json:"created_at"`
	}

	RoomResponse struct {
		Room     chat.Room     `json:"room"`
		IsMember bool          `json:"is_member"`
		Messages []MessageView `json:"messages"`
	}

	MembershipRequest struct {
		Action string `json:"action" form:"action"`
	}

	CreateConfirmResponse struct {
		RoomName string `json:"room_name"`
		Exists   bool   `json:"exists"`
	}
)
