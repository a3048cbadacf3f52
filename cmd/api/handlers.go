package main

import (
	"github.com/gofiber/fiber/v2"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
	"github.com/PaulBabatuyi/chatsync/internal/directory"
	"github.com/PaulBabatuyi/chatsync/internal/normalize"
)

type sendMessageRequest struct {
	ReceiverID int64  `json:"receiverId" validate:"required,gt=0"`
	Text       string `json:"text"`
}

type sendGroupMessageRequest struct {
	GroupID int64  `json:"groupId" validate:"required,gt=0"`
	Text    string `json:"text"`
}

type addMembersRequest struct {
	MemberIDs []int64 `json:"memberIds" validate:"required,min=1,dive,gt=0"`
}

func badRequest(msg string) error {
	return &chat.Error{Kind: chat.ErrValidation, Msg: msg}
}

// idParam reads a positive id path parameter.
func idParam(c *fiber.Ctx, name string) (int64, error) {
	id, ok := normalize.ID(c.Params(name))
	if !ok {
		return 0, badRequest("invalid " + name)
	}
	return id, nil
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return badRequest("invalid request body")
	}
	return chat.Validate(out)
}

// listChats returns the user's chat list, newest activity first.
func (s *Server) listChats(c *fiber.Ctx) error {
	chats, err := s.store.ListChatSummaries(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	if chats == nil {
		chats = []chat.ChatSummary{}
	}
	return c.JSON(chats)
}

func (s *Server) unreadCount(c *fiber.Ctx) error {
	n, err := s.store.UnreadCount(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"unreadCount": n})
}

// getConversation returns the conversation with a friend and marks it read.
func (s *Server) getConversation(c *fiber.Ctx) error {
	friendID, err := idParam(c, "friendId")
	if err != nil {
		return err
	}
	msgs, err := s.router.OpenConversation(c.UserContext(), userID(c), friendID)
	if err != nil {
		return err
	}
	return c.JSON(nonNil(msgs))
}

func (s *Server) markConversationRead(c *fiber.Ctx) error {
	friendID, err := idParam(c, "friendId")
	if err != nil {
		return err
	}
	n, err := s.router.MarkRead(c.UserContext(), userID(c), friendID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Messages marked as read", "updatedCount": n})
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	m, err := s.router.SendPrivate(c.UserContext(), userID(c), req.ReceiverID, req.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

// markMessageRead marks a single message read. A message that does not
// exist or is not addressed to the caller is reported as not updated.
func (s *Server) markMessageRead(c *fiber.Ctx) error {
	messageID, err := idParam(c, "messageId")
	if err != nil {
		return err
	}
	ok, err := s.router.MarkMessageRead(c.UserContext(), userID(c), messageID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"updated": ok})
}

func (s *Server) sendGroupMessage(c *fiber.Ctx) error {
	var req sendGroupMessageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	m, err := s.router.SendGroup(c.UserContext(), userID(c), req.GroupID, req.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

func (s *Server) getGroupMessages(c *fiber.Ctx) error {
	groupID, err := idParam(c, "groupId")
	if err != nil {
		return err
	}
	msgs, err := s.router.OpenGroup(c.UserContext(), userID(c), groupID)
	if err != nil {
		return err
	}
	return c.JSON(nonNil(msgs))
}

func (s *Server) listMembers(c *fiber.Ctx) error {
	groupID, err := idParam(c, "groupId")
	if err != nil {
		return err
	}
	members, err := s.groups.Members(c.UserContext(), groupID, userID(c))
	if err != nil {
		return err
	}
	if members == nil {
		members = []directory.Member{}
	}
	return c.JSON(members)
}

func (s *Server) addMembers(c *fiber.Ctx) error {
	groupID, err := idParam(c, "groupId")
	if err != nil {
		return err
	}
	var req addMembersRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	added, err := s.groups.AddMembers(c.UserContext(), groupID, userID(c), req.MemberIDs)
	if err != nil {
		return err
	}
	if added == nil {
		added = []int64{}
	}
	return c.JSON(fiber.Map{"message": "Members added", "added": added})
}

func (s *Server) removeMember(c *fiber.Ctx) error {
	groupID, err := idParam(c, "groupId")
	if err != nil {
		return err
	}
	memberID, err := idParam(c, "userId")
	if err != nil {
		return err
	}
	if err := s.groups.RemoveMember(c.UserContext(), groupID, userID(c), memberID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Member removed"})
}

func (s *Server) leaveGroup(c *fiber.Ctx) error {
	groupID, err := idParam(c, "groupId")
	if err != nil {
		return err
	}
	if err := s.groups.LeaveGroup(c.UserContext(), groupID, userID(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Left group"})
}

func nonNil(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return []chat.Message{}
	}
	return msgs
}
