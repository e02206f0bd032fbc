package main

import (
	"context"

	"github.com/trezcool/elearn/core/chat"
)

func (cli *commandLine) createRoom(name, description string) error {
	room, created, err := cli.rooms.GetOrCreate(context.Background(), chat.NewRoom{Name: name, Description: description})
	if err != nil {
		return err
	}
	if created {
		cli.printf("room %q created (id %d)\n", room.Name, room.ID)
	} else {
		cli.printf("room %q already exists (id %d)\n", room.Name, room.ID)
	}
	return nil
}
