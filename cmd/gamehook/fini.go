package main

/*
extern void GamehookShutdown(void);

__attribute__((destructor))
static void gamehook_fini(void) {
	GamehookShutdown();
}
*/
import "C"
